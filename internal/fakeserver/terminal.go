package fakeserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ctf-platform/ctf/internal/model"
)

// TerminalHandler serves one accepted terminal stream and returns when it ends.
type TerminalHandler func(conn *websocket.Conn, inst model.Instance)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// attachTerminal handles GET /ws/terminal/:instance?token=. Unknown users and
// instances that are not running are refused before the upgrade.
func (s *Server) attachTerminal(c *gin.Context) {
	s.terminalDials.Add(1)
	id := c.Param("instance")

	username, err := s.userFromToken(c.Query("token"))
	if err != nil {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	s.mu.Lock()
	inst, ok := s.instances[id]
	running := ok && inst.owner == username && inst.Status == model.InstanceStatusRunning
	var snapshot model.Instance
	if ok {
		snapshot = inst.Instance
	}
	s.mu.Unlock()
	if !running {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.track(id, conn)
	defer func() {
		s.untrack(id, conn)
		_ = conn.Close()
	}()

	s.terminal(conn, snapshot)
}

func (s *Server) track(id string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams[id] == nil {
		s.streams[id] = make(map[*websocket.Conn]struct{})
	}
	s.streams[id][conn] = struct{}{}
}

func (s *Server) untrack(id string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams[id], conn)
}

func (s *Server) liveStreams(id string) []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(s.streams[id]))
	for conn := range s.streams[id] {
		conns = append(conns, conn)
	}
	return conns
}

// CloseStreams sends a close frame on every live stream of an instance and
// returns how many there were.
func (s *Server) CloseStreams(id string, code int, text string) int {
	conns := s.liveStreams(id)
	for _, conn := range conns {
		closeWith(conn, code, text)
	}
	return len(conns)
}

// DropStreams cuts every live stream of an instance without a close frame.
func (s *Server) DropStreams(id string) int {
	conns := s.liveStreams(id)
	for _, conn := range conns {
		_ = conn.UnderlyingConn().Close()
	}
	return len(conns)
}

// Echo writes every received message back as a binary frame.
func Echo(conn *websocket.Conn, _ model.Instance) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
