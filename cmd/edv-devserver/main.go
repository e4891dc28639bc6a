// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edv/cmd/edv/cli"
	"github.com/bureau-foundation/edv/lib/httpserver"
	"github.com/bureau-foundation/edv/lib/process"
	"github.com/bureau-foundation/edv/lib/sqlitepool"
	"github.com/bureau-foundation/edv/lib/vaultserver"
	"github.com/bureau-foundation/edv/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		process.Fatal(err)
	}
}

type options struct {
	Listen          string
	Database        string
	BaseURL         string
	PoolSize        int
	ShutdownTimeout time.Duration
	Verbose         bool
}

func parseOptions(args []string, output io.Writer) (options, bool, error) {
	var (
		opts        options
		showVersion bool
	)
	flags := pflag.NewFlagSet("edv-devserver", pflag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVar(&opts.Listen, "listen", "127.0.0.1:8080", "TCP address to listen on")
	flags.StringVar(&opts.Database, "db", "edv-devserver.db", "SQLite database file")
	flags.StringVar(&opts.BaseURL, "base-url", "", "public URL used to build vault ids (default: derived from each request)")
	flags.IntVar(&opts.PoolSize, "pool-size", sqlitepool.DefaultPoolSize, "number of SQLite connections")
	flags.DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", httpserver.DefaultShutdownTimeout, "time allowed for in-flight requests on shutdown")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, false, err
	}
	if flags.NArg() > 0 {
		return options{}, false, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	if opts.BaseURL != "" {
		parsed, err := url.Parse(opts.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return options{}, false, fmt.Errorf("--base-url %q is not an absolute URL", opts.BaseURL)
		}
	}
	if opts.PoolSize < 1 {
		return options{}, false, fmt.Errorf("--pool-size must be at least 1, got %d", opts.PoolSize)
	}
	return opts, showVersion, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, showVersion, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}
	if showVersion {
		fmt.Fprintln(stdout, version.Banner("edv-devserver"))
		return nil
	}

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	logger := cli.NewCommandLogger(stderr, opts.Verbose)
	server, err := newDevServer(opts, nil, logger)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// devServer couples the HTTP listener to the store it serves so both
// are released together.
type devServer struct {
	store    *vaultserver.Store
	database string
	http     *httpserver.Server
	logger   *slog.Logger
}

// newDevServer opens the store and prepares the listener. A non-nil
// listener is served instead of binding opts.Listen.
func newDevServer(opts options, listener net.Listener, logger *slog.Logger) (*devServer, error) {
	if dir := filepath.Dir(opts.Database); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	store, err := vaultserver.OpenStore(vaultserver.StoreConfig{
		Path:     opts.Database,
		PoolSize: opts.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	handler, err := vaultserver.New(vaultserver.Config{
		Store:   store,
		BaseURL: opts.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	httpServer, err := httpserver.New(httpserver.Config{
		Address:         opts.Listen,
		Listener:        listener,
		Handler:         handler,
		ShutdownTimeout: opts.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &devServer{store: store, database: opts.Database, http: httpServer, logger: logger}, nil
}

// Run serves until ctx is cancelled and then closes the store.
func (s *devServer) Run(ctx context.Context) error {
	s.logger.Info("edv-devserver starting",
		"version", version.Info(),
		"database", s.database,
	)
	serveErr := s.http.Serve(ctx)
	closeErr := s.store.Close()
	if serveErr != nil {
		return serveErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing store: %w", closeErr)
	}
	return nil
}
