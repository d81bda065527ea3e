package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ctf-platform/ctf/internal/logger"
	"github.com/ctf-platform/ctf/internal/model"
	"github.com/ctf-platform/ctf/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	// Outbound messages waiting for the connection.
	sendQueueSize = 256

	defaultConnectTimeout = 10 * time.Second
)

// errLocalClose ends a connection that this side chose to close.
var errLocalClose = errors.New("closed locally")

// View is the local terminal surface the bridge renders into and reads from.
type View interface {
	// Write renders a binary frame.
	Write(p []byte) (int, error)
	// WriteString renders a text frame.
	WriteString(s string) (int, error)
	// OnData registers the handler for user input. Each call of fn is one input event.
	OnData(fn func(data []byte))
}

// Options configures a Bridge.
type Options struct {
	// BaseURL is the terminal stream base, e.g. ws://localhost:8000.
	BaseURL    string
	InstanceID string
	Session    *session.Context
	View       View

	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration
	Reconnect      ReconnectPolicy

	// OnStateChange is called for every transition, in order, from the bridge
	// goroutine. It must not call Close.
	OnStateChange func(State)

	Logger *logger.Logger
}

// HandshakeError is a dial the server answered with a non-upgrade response.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// permanent reports whether redialing cannot succeed with the same credentials.
func (e *HandshakeError) permanent() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// Bridge relays one terminal session between a View and the stream endpoint.
type Bridge struct {
	opts        Options
	url         string
	dialer      *websocket.Dialer
	logger      *logger.Logger
	sessionDone <-chan struct{}

	state    atomic.Int32
	outbound chan []byte

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// NewBridge validates the session context and starts connecting. It fails with
// an error wrapping model.ErrMissingContext, without dialing, when the instance
// reference or the identity token is absent. It never blocks on the network.
func NewBridge(ctx context.Context, opts Options) (*Bridge, error) {
	if opts.InstanceID == "" {
		return nil, fmt.Errorf("%w: no instance selected", model.ErrMissingContext)
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("%w: no session", model.ErrMissingContext)
	}
	token, err := opts.Session.Require()
	if err != nil {
		return nil, err
	}
	if opts.View == nil {
		return nil, fmt.Errorf("terminal view is required")
	}

	streamURL, err := StreamURL(opts.BaseURL, opts.InstanceID, token)
	if err != nil {
		return nil, err
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
		}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	b := &Bridge{
		opts:        opts,
		url:         streamURL,
		dialer:      dialer,
		logger:      log.WithFields(zap.String("component", "terminal-bridge"), zap.String("instance_id", opts.InstanceID)),
		sessionDone: opts.Session.Done(),
		outbound:    make(chan []byte, sendQueueSize),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	b.state.Store(int32(StateConnecting))

	opts.View.OnData(b.Send)
	go b.run(ctx)

	return b, nil
}

// State returns the current state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Done is closed once the bridge reaches StateClosed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the last transport error, if any. It is diagnostic only.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// BytesIn returns the number of payload bytes received from the stream.
func (b *Bridge) BytesIn() int64 {
	return b.bytesIn.Load()
}

// BytesOut returns the number of payload bytes written to the stream.
func (b *Bridge) BytesOut() int64 {
	return b.bytesOut.Load()
}

// Send queues one input event as one outbound message. Valid UTF-8 goes out
// as a text frame, anything else as binary. Input arriving while the stream is
// not open is dropped. A full queue blocks the caller.
func (b *Bridge) Send(data []byte) {
	if state := b.State(); state != StateOpen {
		b.logger.Debug("dropping input, stream not open",
			zap.Stringer("state", state),
			zap.Int("bytes", len(data)))
		return
	}

	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case b.outbound <- msg:
	case <-b.closing:
	case <-b.done:
	}
}

// Close closes the stream with a normal closure and waits for the bridge to
// stop. Calling Close more than once is harmless.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.closing) })
	<-b.done
	return nil
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	b.notify(StateConnecting)

	conn, err := b.dial(ctx)
	if err != nil {
		b.setErr(err)
		b.logger.Warn("terminal stream connect failed", zap.Error(err))
		b.setState(StateClosed)
		return
	}

	for {
		b.setState(StateOpen)
		err := b.serve(ctx, conn)
		if !b.shouldReconnect(err) {
			b.setState(StateClosed)
			return
		}

		b.logger.Warn("terminal stream dropped", zap.Error(err))
		conn = b.reconnect(ctx)
		if conn == nil {
			b.setState(StateClosed)
			return
		}
	}
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := b.dialer.DialContext(dialCtx, b.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return conn, nil
}

// serve relays frames over conn until it fails or the bridge is told to stop.
func (b *Bridge) serve(ctx context.Context, conn *websocket.Conn) error {
	frames := make(chan Frame)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	go b.readPump(conn, frames, readErr, stop)

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(stop)
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-frames:
			b.deliver(frame)

		case data := <-b.outbound:
			if err := b.write(conn, data); err != nil {
				return err
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case err := <-readErr:
			return err

		case <-b.closing:
			closeConn(conn, websocket.CloseNormalClosure, "")
			return errLocalClose

		case <-ctx.Done():
			closeConn(conn, websocket.CloseNormalClosure, "")
			return errLocalClose

		case <-b.sessionDone:
			closeConn(conn, websocket.CloseNormalClosure, "logged out")
			return errLocalClose
		}
	}
}

// readPump reads frames until the connection fails. Frames are handed over
// one at a time so the error is only reported after every earlier frame.
func (b *Bridge) readPump(conn *websocket.Conn, frames chan<- Frame, readErr chan<- error, stop <-chan struct{}) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}

		frame := Frame{Binary: messageType == websocket.BinaryMessage, Data: data}
		select {
		case frames <- frame:
		case <-stop:
			return
		}
	}
}

func (b *Bridge) deliver(frame Frame) {
	b.bytesIn.Add(int64(len(frame.Data)))

	var err error
	if frame.Binary {
		_, err = b.opts.View.Write(frame.Data)
	} else {
		_, err = b.opts.View.WriteString(string(frame.Data))
	}
	if err != nil {
		b.logger.Debug("terminal view write failed", zap.Error(err))
	}
}

func (b *Bridge) write(conn *websocket.Conn, data []byte) error {
	messageType := websocket.TextMessage
	if !utf8.Valid(data) {
		messageType = websocket.BinaryMessage
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	b.bytesOut.Add(int64(len(data)))
	return nil
}

func closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// shouldReconnect reports whether err is an abnormal drop the policy covers.
// A close frame from the remote ends the session.
func (b *Bridge) shouldReconnect(err error) bool {
	if errors.Is(err, errLocalClose) {
		return false
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		b.setErr(err)
		b.logger.Info("terminal stream closed by remote",
			zap.Int("code", closeErr.Code),
			zap.String("reason", closeErr.Text))
		return false
	}

	b.setErr(err)
	return b.opts.Reconnect.Enabled()
}

// reconnect redials with backoff. It returns nil when attempts run out, a
// handshake is permanently rejected, or the bridge is told to stop.
func (b *Bridge) reconnect(ctx context.Context) *websocket.Conn {
	b.setState(StateReconnecting)
	policy := b.opts.Reconnect.backOff()

	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			b.logger.Warn("terminal stream reconnect attempts exhausted", zap.Int("attempts", attempt-1))
			return nil
		}
		if !b.pause(ctx, wait) {
			return nil
		}
		if _, err := b.opts.Session.Require(); err != nil {
			b.logger.Info("session ended while reconnecting", zap.Error(err))
			return nil
		}

		b.logger.Info("terminal stream reconnecting", zap.Int("attempt", attempt), zap.Duration("after", wait))
		conn, err := b.dial(ctx)
		if err == nil {
			b.drop()
			return conn
		}
		b.setErr(err)
		b.logger.Warn("terminal stream reconnect failed", zap.Int("attempt", attempt), zap.Error(err))

		var handshakeErr *HandshakeError
		if errors.As(err, &handshakeErr) && handshakeErr.permanent() {
			return nil
		}
	}
}

// pause waits for d, discarding input queued before the drop. It returns false
// when the bridge should stop instead.
func (b *Bridge) pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return true
		case data := <-b.outbound:
			b.logger.Debug("dropping input while reconnecting", zap.Int("bytes", len(data)))
		case <-b.closing:
			return false
		case <-ctx.Done():
			return false
		case <-b.sessionDone:
			return false
		}
	}
}

// drop discards queued input without waiting.
func (b *Bridge) drop() {
	for {
		select {
		case data := <-b.outbound:
			b.logger.Debug("dropping stale input", zap.Int("bytes", len(data)))
		default:
			return
		}
	}
}

func (b *Bridge) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev == s {
		return
	}
	b.logger.Debug("terminal stream state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	b.notify(s)
}

func (b *Bridge) notify(s State) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(s)
	}
}
