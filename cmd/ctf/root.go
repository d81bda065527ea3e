package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ctf-platform/ctf/internal/api"
	"github.com/ctf-platform/ctf/internal/config"
	"github.com/ctf-platform/ctf/internal/db"
	"github.com/ctf-platform/ctf/internal/logger"
	"github.com/ctf-platform/ctf/internal/repository"
	"github.com/ctf-platform/ctf/internal/session"
)

// interactive marks commands that own the terminal; they log to a file.
const interactive = "interactive"

// app is the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg      *config.Config
	logger   *logger.Logger
	db       *sql.DB
	session  *session.Context
	client   *api.Client
	sessions *repository.TerminalSessionRepository
}

// execute runs one invocation and releases its resources.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	defer func() { _ = a.close() }()

	return root.ExecuteContext(ctx)
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "ctf",
		Short:         "Command-line client for the challenge platform",
		Long:          "Browse challenges, manage instances, submit flags and open a terminal on a running instance.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml or <state-dir>/config.yaml)")
	flags.String("api-url", "", "platform API base URL")
	flags.String("state-dir", "", "directory for credentials, history, logs and recordings")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	_ = a.v.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = a.v.BindPFlag("state_dir", flags.Lookup("state-dir"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newChallengesCmd(a),
		newInstancesCmd(a),
		newStartCmd(a),
		newStopCmd(a),
		newSubmitCmd(a),
		newKeyCmd(a),
		newTerminalCmd(a),
		newHistoryCmd(a),
		newStatusCmd(a),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	logCfg := cfg.Logging
	if cmd.Annotations[interactive] == "true" {
		switch logCfg.OutputPath {
		case "", "stderr", "stdout":
			logCfg.OutputPath = cfg.LogPath()
		}
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = log.WithFields(zap.String("command", cmd.Name()))

	database, err := db.InitDB(cfg.DBPath())
	if err != nil {
		return err
	}
	a.db = database
	a.sessions = repository.NewTerminalSessionRepository(database)

	sc, err := session.Load(cmd.Context(), repository.NewCredentialRepository(database))
	if err != nil {
		return err
	}
	a.session = sc
	a.client = api.NewClient(cfg.APIURL, sc, cfg.RequestTimeout, a.logger)

	a.logger.Debug("client ready",
		zap.String("api_url", cfg.APIURL),
		zap.String("state_dir", cfg.StateDir))
	return nil
}

func (a *app) close() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.db != nil {
		a.db = nil
		return db.CloseDB()
	}
	return nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
