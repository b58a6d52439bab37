package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/agentdesk/app"
	"github.com/zhubert/agentdesk/logger"
	"github.com/zhubert/agentdesk/paths"
	"github.com/zhubert/agentdesk/process"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session host",
		Long: `Run the session host on its unix socket until interrupted.

The desktop UI connects to the socket's /ws endpoint for session events.
Only one host may run per user; a second one exits with an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, foreground)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Log to stderr instead of the log file")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, foreground bool) error {
	if foreground {
		logger.InitWriter(os.Stderr)
	} else {
		logPath, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		if err := logger.Init(logPath); err != nil {
			return err
		}
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.WithComponent("serve")

	pidPath, err := paths.HostPidFilePath()
	if err != nil {
		return err
	}
	if err := process.Acquire(pidPath); err != nil {
		return err
	}
	defer process.Release(pidPath)

	a, err := app.New(cfg, app.Deps{})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	listener, err := a.Server.Listen(cfg.SocketPath)
	if err != nil {
		a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	served := make(chan error, 1)
	go func() { served <- a.Serve(listener) }()
	fmt.Fprintf(os.Stderr, "agentdesk listening on %s\n", cfg.SocketPath)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("interrupted")
	case serveErr = <-served:
		if serveErr != nil {
			log.Error("server stopped", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	return serveErr
}
