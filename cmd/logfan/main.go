package main

import (
	"context"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/logfan/internal/cmd/client"
	serverrun "github.com/rzbill/logfan/internal/cmd/server"
	cfgpkg "github.com/rzbill/logfan/internal/config"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// serverFlags are the command-line overrides for `logfan server start`.
// Anything left empty falls through to the config file and LOGFAN_* env.
type serverFlags struct {
	dataDir         string
	grpcAddr        string
	httpAddr        string
	fsync           string
	fsyncIntervalMs int
	configPath      string
	envFile         string
	logLevel        string
	logFormat       string
	authMode        string
}

func (f *serverFlags) options() (serverrun.Options, error) {
	mode, err := pebblestore.ParseFsyncMode(f.fsync)
	if err != nil {
		return serverrun.Options{}, errors.Annotate(err, "--fsync")
	}
	if err := cfgpkg.LoadDotEnv(f.envFile); err != nil {
		return serverrun.Options{}, err
	}
	cfg, err := cfgpkg.Load(f.configPath)
	if err != nil {
		return serverrun.Options{}, err
	}
	cfgpkg.FromEnv(&cfg)
	for dst, v := range map[*string]string{
		&cfg.Log.Level:  f.logLevel,
		&cfg.Log.Format: f.logFormat,
		&cfg.Auth.Mode:  f.authMode,
	} {
		if v != "" {
			*dst = v
		}
	}
	return serverrun.Options{
		DataDir:       f.dataDir,
		GRPCAddr:      f.grpcAddr,
		HTTPAddr:      f.httpAddr,
		Fsync:         mode,
		FsyncInterval: time.Duration(f.fsyncIntervalMs) * time.Millisecond,
		Config:        cfg,
	}, nil
}

func newServerCmd() *cobra.Command {
	var f serverFlags
	start := &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Start a node: log ingest, websocket subscriptions and gRPC health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			return errors.Annotate(serverrun.Run(cmd.Context(), opts), "server")
		},
	}
	fl := start.Flags()
	fl.StringVar(&f.dataDir, "data-dir", "", "Data directory (default $"+cfgpkg.DataDirEnv+" or an OS-specific location)")
	fl.StringVar(&f.grpcAddr, "grpc", ":50051", "gRPC health listen address, empty disables")
	fl.StringVar(&f.httpAddr, "http", ":8080", "HTTP and websocket listen address")
	fl.StringVar(&f.fsync, "fsync", "always", "WAL sync policy: always|interval|never")
	fl.IntVar(&f.fsyncIntervalMs, "fsync-interval-ms", 5, "Group-commit window when --fsync=interval")
	fl.StringVar(&f.configPath, "config", os.Getenv("LOGFAN_CONFIG"), "Config file (.json, .yaml)")
	fl.StringVar(&f.envFile, "env-file", "", "Env file loaded before LOGFAN_* variables (default .env if present)")
	fl.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	fl.StringVar(&f.logFormat, "log-format", "", "text|json")
	fl.StringVar(&f.authMode, "auth", "", "Subscriber auth: jwt|remote|none")

	server := &cobra.Command{Use: "server", Short: "Run a logfan node"}
	server.AddCommand(start)
	return server
}

func main() {
	level, err := logpkg.ParseLevel(os.Getenv("LOGFAN_LOG_LEVEL"))
	if err != nil {
		level = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	root := &cobra.Command{
		Use:           "logfan",
		Short:         "Fan build and workload logs out to websocket subscribers",
		Long:          "logfan replays stored log lines and streams new ones to subscribers, matched by identifier.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServerCmd())
	clientcmd.AddCommands(root, clientcmd.BaseURLFromEnv, clientcmd.GRPCAddrFromEnv)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", logpkg.Err(err))
		os.Exit(1)
	}
}
