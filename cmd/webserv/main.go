// Package main is the entry point of the webserv binary: it parses a
// single configuration file, optionally only validates it, and otherwise
// runs the server until interrupted (§6 EXTERNAL INTERFACES, CLI).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mossab7/web-server/internal/config"
	"github.com/mossab7/web-server/internal/logging"
	"github.com/mossab7/web-server/internal/server"
)

var (
	debug    bool
	validate bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "webserv <config-file>",
		Short:        "A configurable, single-threaded, non-blocking HTTP/1.1 origin server",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable verbose debug logging")
	cmd.Flags().BoolVar(&validate, "validate", false, "parse and validate the configuration file, then exit")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	configPath := args[0]

	cfg, err := config.ParseFile(configPath)
	if err != nil {
		return fmt.Errorf("webserv: config: %w", err)
	}
	cfg.ApplyDefaults()

	if validate {
		fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is valid (%d server block(s))\n", configPath, len(cfg.Servers))
		return nil
	}

	log, err := logging.New(debug)
	if err != nil {
		return fmt.Errorf("webserv: logging: %w", err)
	}
	defer log.Sync()

	// SIGPIPE on a half-closed socket is handled inline by netio's EPIPE
	// checks; ignoring it here keeps a client disconnect from killing the
	// whole process the way the default disposition would.
	signal.Ignore(syscall.SIGPIPE)

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("webserv: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("server starting", zap.Int("servers", len(cfg.Servers)))
	return srv.Run(ctx)
}
