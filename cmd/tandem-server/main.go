// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tandem/conduct"
	"github.com/bureau-foundation/tandem/lib/config"
	"github.com/bureau-foundation/tandem/lib/docstore"
	"github.com/bureau-foundation/tandem/lib/identity"
	"github.com/bureau-foundation/tandem/lib/process"
	"github.com/bureau-foundation/tandem/lib/version"
	"github.com/bureau-foundation/tandem/server"
	"github.com/bureau-foundation/tandem/transport"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

// options holds the command-line flags. Flags override the
// corresponding configuration values.
type options struct {
	configPath  string
	listen      string
	logFormat   string
	mintToken   string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("tandem-server", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+" or built-in defaults)")
	flagSet.StringVar(&opts.listen, "listen", "", "listen address, overriding the configuration")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format: text or json, overriding the configuration")
	flagSet.StringVar(&opts.mintToken, "mint-token", "", "print a bearer token for this identity and exit")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if flagSet.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(output io.Writer, logConfig config.LogConfig) (*slog.Logger, error) {
	level, err := logConfig.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	switch logConfig.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(output, options)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(output, options)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", logConfig.Format)
	}
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, "tandem-server", version.Current())
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	key, created, err := identity.LoadOrGenerateKey(cfg.Paths.SigningKey)
	if err != nil {
		return err
	}
	if created {
		logger.Info("generated token signing key", "path", cfg.Paths.SigningKey)
	}
	signer, err := identity.NewSigner(key)
	if err != nil {
		return err
	}

	if opts.mintToken != "" {
		token, err := signer.Mint(opts.mintToken)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		return nil
	}

	return serve(cfg, signer, logger)
}

func serve(cfg *config.Config, signer *identity.Signer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting tandem-server",
		"build", version.Current(),
		"environment", string(cfg.Environment),
		"database", cfg.Paths.Database,
	)

	compression, err := docstore.ParseCompression(cfg.Store.Compression)
	if err != nil {
		return err
	}
	store, err := docstore.Open(docstore.Config{
		Path:        cfg.Paths.Database,
		PoolSize:    cfg.Store.PoolSize,
		Compression: compression,
		Logger:      logger.With("component", "docstore"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing document store", "error", err)
		}
	}()

	hub, err := conduct.NewHub(conduct.HubConfig{
		Store:             store,
		Logger:            logger.With("component", "conduct"),
		Heartbeat:         cfg.Session.Heartbeat,
		SignalCapacity:    cfg.Session.SignalCapacity,
		MailboxCapacity:   cfg.Session.MailboxCapacity,
		StoreFailureLimit: cfg.Session.StoreFailureLimit,
		EditIdleTimeout:   cfg.Session.EditIdleTimeout,
	})
	if err != nil {
		return err
	}

	api, err := server.New(server.Config{
		Hub:       hub,
		Documents: store,
		Signer:    signer,
		Upgrader: transport.NewUpgrader(transport.UpgraderConfig{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Conn:           transport.WebSocketConfig{MaxMessageBytes: cfg.HTTP.MaxMessageBytes},
		}),
		MaxBodyBytes: cfg.HTTP.MaxMessageBytes,
		Logger:       logger.With("component", "server"),
	})
	if err != nil {
		return err
	}

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address:         cfg.Listen,
		Handler:         api.Handler(),
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Logger:          logger,
	})
	return httpServer.Serve(ctx)
}
