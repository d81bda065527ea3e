//go:build !windows

package fakeserver

import (
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"

	"github.com/ctf-platform/ctf/internal/model"
)

// Shell runs name under a pseudo-terminal for every stream, the way the
// platform attaches to a challenge container's shell. PTY output goes out as
// binary frames; received frames of either kind are typed into the PTY.
func Shell(name string, args ...string) TerminalHandler {
	return func(conn *websocket.Conn, inst model.Instance) {
		cmd := exec.Command(name, args...)
		cmd.Env = append(os.Environ(), "TERM=xterm-256color", "CTF_INSTANCE="+inst.ID)

		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
		if err != nil {
			closeWith(conn, websocket.CloseInternalServerErr, "failed to start shell")
			return
		}
		defer func() {
			_ = ptmx.Close()
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}()

		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					_ = ptmx.Close()
					return
				}
				if _, err := ptmx.Write(data); err != nil {
					return
				}
			}
		}()

		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				break
			}
		}
		closeWith(conn, websocket.CloseNormalClosure, "shell exited")
	}
}
