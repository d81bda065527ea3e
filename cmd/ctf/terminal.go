package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ctf-platform/ctf/internal/config"
	"github.com/ctf-platform/ctf/internal/model"
	"github.com/ctf-platform/ctf/internal/recording"
	"github.com/ctf-platform/ctf/internal/terminal"
	"github.com/ctf-platform/ctf/internal/ws"
)

// historyTail is how much of the final output is kept with the session history.
const historyTail = 8 * 1024

func newTerminalCmd(a *app) *cobra.Command {
	var (
		recordPath  string
		noReconnect bool
	)
	cmd := &cobra.Command{
		Use:   "terminal INSTANCE",
		Short: "Open a terminal on a running instance",
		Long: "Open a terminal on a running instance. Keystrokes are sent as typed and output is shown " +
			"as received. Press the escape key (default ^]) to detach.",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{interactive: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTerminal(cmd, args[0], recordPath, noReconnect)
		},
	}
	cmd.Flags().StringVar(&recordPath, "record", "", "record the session as an asciinema cast (a bare name is saved under <state-dir>/recordings)")
	cmd.Flags().BoolVar(&noReconnect, "no-reconnect", false, "end the session instead of reconnecting after a dropped connection")
	return cmd
}

func (a *app) runTerminal(cmd *cobra.Command, instanceID, recordPath string, noReconnect bool) error {
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()
	log := a.logger.WithFields(zap.String("instance_id", instanceID))

	escape, err := config.ParseEscapeKey(a.cfg.Terminal.EscapeKey)
	if err != nil {
		return err
	}

	// A bare file name goes to the recordings directory.
	if recordPath != "" && filepath.Base(recordPath) == recordPath {
		recordPath = filepath.Join(a.cfg.RecordingDir(), recordPath)
	}

	var rec *recording.Recorder
	if recordPath != "" {
		rec, err = recording.Create(recordPath)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	console := terminal.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), terminal.Options{
		Scrollback: a.cfg.Terminal.Scrollback,
		EscapeByte: escape,
		Recorder:   rec,
		Logger:     log,
	})
	if rec != nil {
		cols, rows := console.Size()
		env := map[string]string{"TERM": os.Getenv("TERM"), "SHELL": os.Getenv("SHELL")}
		if err := rec.WriteHeader(cols, rows, "ctf terminal "+instanceID, env); err != nil {
			return err
		}
	}

	policy := ws.ReconnectPolicy{
		MaxAttempts:     a.cfg.Reconnect.MaxAttempts,
		InitialInterval: a.cfg.Reconnect.InitialInterval,
		MaxInterval:     a.cfg.Reconnect.MaxInterval,
		Multiplier:      a.cfg.Reconnect.Multiplier,
	}
	if noReconnect {
		policy.MaxAttempts = 0
	}

	record := &model.TerminalSession{
		ID:            uuid.NewString(),
		InstanceID:    instanceID,
		State:         ws.StateConnecting.String(),
		RecordingPath: recordPath,
		StartedAt:     time.Now(),
	}

	opened := false
	bridge, err := ws.NewBridge(ctx, ws.Options{
		BaseURL:        a.cfg.TerminalURL(),
		InstanceID:     instanceID,
		Session:        a.session,
		View:           console,
		ConnectTimeout: a.cfg.ConnectTimeout,
		Reconnect:      policy,
		Logger:         log,
		OnStateChange: func(s ws.State) {
			switch s {
			case ws.StateOpen:
				if opened {
					notice(stderr, "reconnected")
				} else {
					notice(stderr, fmt.Sprintf("connected to %s, press %s to detach", instanceID, a.cfg.Terminal.EscapeKey))
				}
				opened = true
			case ws.StateReconnecting:
				notice(stderr, "connection lost, reconnecting...")
			}
			if err := a.sessions.UpdateState(context.Background(), record.ID, s.String()); err != nil {
				log.Debug("failed to record session state", zap.Error(err))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("terminal failed: %w", err)
	}
	if err := a.sessions.Create(context.Background(), record); err != nil {
		log.Warn("failed to record session", zap.Error(err))
	}

	if err := console.MakeRaw(); err != nil {
		_ = bridge.Close()
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer func() { _ = console.Restore() }()

	resizeCtx, stopResize := context.WithCancel(ctx)
	defer stopResize()
	go console.WatchResize(resizeCtx, func(cols, rows int) {
		log.Debug("window resized", zap.Int("cols", cols), zap.Int("rows", rows))
	})

	input := make(chan error, 1)
	go func() { input <- console.Run(ctx) }()

	var detached bool
	select {
	case <-bridge.Done():
	case err := <-input:
		detached = errors.Is(err, terminal.ErrDetached)
		if err != nil && !detached && !errors.Is(err, context.Canceled) {
			log.Warn("terminal input failed", zap.Error(err))
		}
	case <-ctx.Done():
	}
	_ = bridge.Close()

	if err := a.sessions.Finish(context.Background(), record.ID, ws.StateClosed.String(),
		bridge.BytesIn(), bridge.BytesOut(), time.Now()); err != nil {
		log.Debug("failed to finish session record", zap.Error(err))
	}
	if err := a.sessions.SaveTail(context.Background(), record.ID, console.ScrollbackTail(historyTail)); err != nil {
		log.Debug("failed to save session tail", zap.Error(err))
	}

	_ = console.Restore()
	switch {
	case detached:
		notice(stderr, "detached")
	case bridge.Err() != nil:
		notice(stderr, "session ended: "+bridge.Err().Error())
	default:
		notice(stderr, "session ended")
	}
	if recordPath != "" {
		notice(stderr, "recording saved to "+recordPath)
	}
	return nil
}

// notice prints a client message between terminal output. \r keeps it
// readable while the TTY is in raw mode.
func notice(w io.Writer, msg string) {
	printf(w, "\r\n[ctf] %s\r\n", msg)
}
