// Package fakeserver is an in-process stand-in for the challenge platform:
// the REST API and the terminal stream endpoint, with just enough behavior
// to exercise the client against the real wire contract.
package fakeserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ctf-platform/ctf/internal/model"
)

type user struct {
	password  string
	publicKey string
}

type instance struct {
	model.Instance
	owner string
}

// Server is a fake platform.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	offset   atomic.Int64
	terminal TerminalHandler

	mu         sync.Mutex
	users      map[string]*user
	challenges []model.Challenge
	flags      map[string]string
	instances  map[string]*instance
	streams    map[string]map[*websocket.Conn]struct{}
	nextID     int

	terminalDials atomic.Int32
	requests      atomic.Int32

	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithUser registers an account.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = &user{password: password}
	}
}

// WithChallenge adds a challenge and its flag.
func WithChallenge(c model.Challenge, flag string) Option {
	return func(s *Server) {
		s.challenges = append(s.challenges, c)
		s.flags[c.ID] = flag
	}
}

// WithTerminal replaces the default echo terminal.
func WithTerminal(h TerminalHandler) Option {
	return func(s *Server) {
		s.terminal = h
	}
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = d
	}
}

// WithSecret sets the token signing key.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

// New creates a fake platform.
func New(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		secret:    []byte("fake-platform-secret"),
		tokenTTL:  time.Hour,
		terminal:  Echo,
		users:     make(map[string]*user),
		flags:     make(map[string]string),
		instances: make(map[string]*instance),
		streams:   make(map[string]map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.countRequests())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/register", s.register)
		api.POST("/login", s.login)

		private := api.Group("", s.requireUser())
		private.GET("/challenges", s.listChallenges)
		private.GET("/instances", s.listInstances)
		private.POST("/instances/start", s.startInstance)
		private.POST("/instances/stop", s.stopInstance)
		private.POST("/submit", s.submitFlag)
		private.POST("/profile/key", s.setPublicKey)
	}

	r.GET("/ws/terminal/:instance", s.attachTerminal)

	s.engine = r
	return s
}

// Handler returns the HTTP handler of the platform.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve starts the platform on a local port. The caller closes it.
func (s *Server) Serve() *httptest.Server {
	return httptest.NewServer(s.engine)
}

// RunInstance creates a running instance owned by username.
func (s *Server) RunInstance(username, challengeID string) model.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createInstanceLocked(username, challengeID).Instance
}

// SetInstanceStatus changes an instance's status.
func (s *Server) SetInstanceStatus(id string, status model.InstanceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		inst.Status = status
	}
}

// PublicKey returns the key registered for username.
func (s *Server) PublicKey(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		return u.publicKey
	}
	return ""
}

// TerminalDials returns the number of terminal stream requests received.
func (s *Server) TerminalDials() int {
	return int(s.terminalDials.Load())
}

// Requests returns the number of requests received on any route.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

func (s *Server) createInstanceLocked(owner, challengeID string) *instance {
	s.nextID++
	host := "127.0.0.1"
	port := 2200 + s.nextID
	inst := &instance{
		Instance: model.Instance{
			ID:          fmt.Sprintf("inst-%d", s.nextID),
			ChallengeID: challengeID,
			Status:      model.InstanceStatusRunning,
			SSHHost:     &host,
			SSHPort:     &port,
		},
		owner: owner,
	}
	s.instances[inst.ID] = inst
	return inst
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.requests.Add(1)
		c.Next()
	}
}

// sendDetail writes an error in the platform's {"detail": ...} shape.
func sendDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
