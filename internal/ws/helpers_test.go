package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ctf-platform/ctf/internal/model"
	"github.com/ctf-platform/ctf/internal/session"
)

// memStore is an in-memory session.TokenStore.
type memStore struct {
	mu    sync.Mutex
	slots map[string]string
}

func (s *memStore) Get(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[name]
	if !ok {
		return "", model.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots == nil {
		s.slots = make(map[string]string)
	}
	s.slots[name] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, name)
	return nil
}

func newSession(t *testing.T, token string) *session.Context {
	t.Helper()
	store := &memStore{}
	if token != "" {
		_ = store.Put(context.Background(), session.TokenSlot, token)
	}
	sc, err := session.Load(context.Background(), store)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	return sc
}

// fakeView records every render call and lets tests emit input events.
type fakeView struct {
	mu     sync.Mutex
	frames []Frame
	onData func([]byte)
	wrote  chan struct{}
}

func newFakeView() *fakeView {
	return &fakeView{wrote: make(chan struct{}, 1024)}
}

func (v *fakeView) Write(p []byte) (int, error) {
	v.record(Frame{Binary: true, Data: append([]byte(nil), p...)})
	return len(p), nil
}

func (v *fakeView) WriteString(s string) (int, error) {
	v.record(Frame{Binary: false, Data: []byte(s)})
	return len(s), nil
}

func (v *fakeView) record(f Frame) {
	v.mu.Lock()
	v.frames = append(v.frames, f)
	v.mu.Unlock()
	select {
	case v.wrote <- struct{}{}:
	default:
	}
}

func (v *fakeView) OnData(fn func([]byte)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onData = fn
}

func (v *fakeView) emit(s string) {
	v.mu.Lock()
	fn := v.onData
	v.mu.Unlock()
	fn([]byte(s))
}

func (v *fakeView) Frames() []Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Frame(nil), v.frames...)
}

// streamServer is a terminal stream endpoint the tests drive by hand.
type streamServer struct {
	*httptest.Server

	dials    atomic.Int32
	reject   atomic.Int32
	gate     chan struct{}
	conns    chan *websocket.Conn
	received chan Frame
	closes   chan *websocket.CloseError
	lastPath atomic.Value
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{
		conns:    make(chan *websocket.Conn, 16),
		received: make(chan Frame, 1024),
		closes:   make(chan *websocket.CloseError, 16),
	}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.dials.Add(1)
		s.lastPath.Store(r.URL.RequestURI())
		if s.gate != nil {
			<-s.gate
		}
		if code := s.reject.Load(); code != 0 {
			http.Error(w, "rejected", int(code))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn

		go func() {
			for {
				mt, data, err := conn.ReadMessage()
				if err != nil {
					if ce, ok := err.(*websocket.CloseError); ok {
						s.closes <- ce
					}
					return
				}
				s.received <- Frame{Binary: mt == websocket.BinaryMessage, Data: data}
			}
		}()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *streamServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream connection")
		return nil
	}
}

func (s *streamServer) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-s.received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return Frame{}
	}
}

// stateLog collects OnStateChange calls.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, b *Bridge, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return b.State() == want })
}

func startBridge(t *testing.T, srv *streamServer, view *fakeView, log *stateLog, policy ReconnectPolicy) *Bridge {
	t.Helper()
	opts := Options{
		BaseURL:        srv.wsURL(),
		InstanceID:     "inst-1",
		Session:        newSession(t, "test-token"),
		View:           view,
		ConnectTimeout: time.Second,
		Reconnect:      policy,
	}
	if log != nil {
		opts.OnStateChange = log.record
	}
	b, err := NewBridge(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}
