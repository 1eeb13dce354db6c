package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/live-detect-client/internal/logger"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture loop and the operator UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- p.Run() }()

		p.Start(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Main", "Shutting down...")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := p.Shutdown(shutdownCtx); err != nil {
			logger.Error("Main", "Error during shutdown: %v", err)
			return err
		}
		logger.Info("Main", "Stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("addr", ":8090", "Operator UI listen address")
	f.Duration("interval", 500*time.Millisecond, "Sampling interval")
	f.String("source", "file", "Capture source (file, snapshot, screen)")
	f.String("source-path", "./frame.jpg", "Frame file for the file source")
	f.String("source-url", "", "Snapshot URL for the snapshot source")
	f.Bool("persist", false, "Ask the service to persist results")
	f.Bool("auto-start", false, "Start capture on launch")

	bindFlags(f, map[string]string{
		"addr":        "addr",
		"interval":    "interval",
		"source.kind": "source",
		"source.path": "source-path",
		"source.url":  "source-url",
		"persist":     "persist",
		"auto_start":  "auto-start",
	})
}
