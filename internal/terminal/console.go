// Package terminal is the local terminal view: the user's TTY in raw mode,
// an emulated screen model and the scrollback kept for the session.
package terminal

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ctf-platform/ctf/internal/buffer"
	"github.com/ctf-platform/ctf/internal/logger"
	"github.com/ctf-platform/ctf/internal/recording"
)

const (
	defaultCols = 80
	defaultRows = 24

	// DefaultEscapeByte is Ctrl-].
	DefaultEscapeByte = 0x1d

	defaultScrollback = 64 * 1024
	readBufferSize    = 4096
)

// ErrDetached is returned by Run when the user types the escape byte on its own.
var ErrDetached = errors.New("detached")

// Options configures a Console.
type Options struct {
	// Scrollback is the number of output bytes retained.
	Scrollback int
	// EscapeByte detaches when read on its own. Zero disables detaching.
	EscapeByte byte
	// Recorder, when set, receives output, input and resize events.
	Recorder *recording.Recorder
	Logger   *logger.Logger
}

// Console is a terminal view over an input reader and an output writer.
type Console struct {
	in   io.Reader
	out  io.Writer
	opts Options

	screen     *Screen
	scrollback *buffer.RingBuffer
	logger     *logger.Logger

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	onData    func([]byte)

	rawMu    sync.Mutex
	rawState *term.State
}

// NewConsole creates a console. When in and out are terminals the console
// sizes itself from them.
func NewConsole(in io.Reader, out io.Writer, opts Options) *Console {
	if opts.Scrollback <= 0 {
		opts.Scrollback = defaultScrollback
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &Console{
		in:         in,
		out:        out,
		opts:       opts,
		scrollback: buffer.NewRingBuffer(opts.Scrollback),
		logger:     log.WithFields(zap.String("component", "console")),
	}
	cols, rows := c.Size()
	c.screen = NewScreen(cols, rows)
	return c
}

// Screen returns the screen model.
func (c *Console) Screen() *Screen {
	return c.screen
}

// Scrollback returns the retained output.
func (c *Console) Scrollback() []byte {
	return c.scrollback.ReadAll()
}

// ScrollbackTail returns at most the last n bytes of retained output.
func (c *Console) ScrollbackTail(n int) []byte {
	return c.scrollback.Tail(n)
}

// Size returns the window size of the output (or input) terminal, or 80x24
// when neither is a terminal.
func (c *Console) Size() (cols, rows int) {
	for _, f := range []any{c.out, c.in} {
		file, ok := f.(*os.File)
		if !ok || !term.IsTerminal(int(file.Fd())) {
			continue
		}
		r, cl, err := pty.Getsize(file)
		if err == nil && r > 0 && cl > 0 {
			return cl, r
		}
	}
	return defaultCols, defaultRows
}

// MakeRaw puts the input terminal into raw mode. It is a no-op when the input
// is not a terminal.
func (c *Console) MakeRaw() error {
	file, ok := c.in.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return nil
	}

	c.rawMu.Lock()
	defer c.rawMu.Unlock()
	if c.rawState != nil {
		return nil
	}
	state, err := term.MakeRaw(int(file.Fd()))
	if err != nil {
		return err
	}
	c.rawState = state
	return nil
}

// Restore undoes MakeRaw.
func (c *Console) Restore() error {
	c.rawMu.Lock()
	defer c.rawMu.Unlock()
	if c.rawState == nil {
		return nil
	}
	file := c.in.(*os.File)
	err := term.Restore(int(file.Fd()), c.rawState)
	c.rawState = nil
	return err
}

// Write renders bytes verbatim.
func (c *Console) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.out.Write(p)
	_, _ = c.screen.Write(p)
	_, _ = c.scrollback.Write(p)
	if c.opts.Recorder != nil {
		if rerr := c.opts.Recorder.Output(p); rerr != nil {
			c.logger.Debug("recording output failed", zap.Error(rerr))
		}
	}
	return n, err
}

// WriteString renders text verbatim.
func (c *Console) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// OnData registers the input handler. Each call of fn is one input event.
func (c *Console) OnData(fn func(data []byte)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onData = fn
}

// Resize updates the screen model after the window changed size.
func (c *Console) Resize(cols, rows int) {
	c.screen.Resize(cols, rows)
	if c.opts.Recorder != nil {
		_ = c.opts.Recorder.Resize(cols, rows)
	}
}

// Run reads input until it ends, the context is done or the user detaches.
// Every read is passed to the handler as one event. End of input returns nil.
// Run blocks in Read; callers that must stop earlier run it in a goroutine.
func (c *Console) Run(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := c.in.Read(buf)
		if n > 0 {
			if c.opts.EscapeByte != 0 && n == 1 && buf[0] == c.opts.EscapeByte {
				return ErrDetached
			}
			c.dispatch(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (c *Console) dispatch(data []byte) {
	event := make([]byte, len(data))
	copy(event, data)

	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.Input(event); err != nil {
			c.logger.Debug("recording input failed", zap.Error(err))
		}
	}

	c.handlerMu.RLock()
	fn := c.onData
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(event)
	}
}
