package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/live-detect-client/internal/logger"
)

// program implements service.Interface around the pipeline.
type program struct {
	p    *pipeline
	done chan struct{}
}

func (prg *program) Start(s service.Service) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	prg.p = p
	prg.done = make(chan struct{})

	// Start must not block.
	go func() {
		defer close(prg.done)
		if err := p.Run(); err != nil {
			logger.Error("Service", "%v", err)
		}
	}()
	go p.Start(context.Background())
	return nil
}

func (prg *program) Stop(s service.Service) error {
	logger.Info("Service", "Stopping service...")
	if prg.p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := prg.p.Shutdown(ctx); err != nil {
		logger.Error("Service", "Forced shutdown: %v", err)
	}
	<-prg.done
	return nil
}

var serviceCmd = &cobra.Command{
	Use:       "service <install|uninstall|start|stop|restart|run>",
	Short:     "Manage detect-client as a system service",
	Long:      `Installs the client as a system service that runs "serve" with the given config file.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: append(service.ControlAction[:], "run"),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := args[0]

		svcArgs := []string{"service", "run"}
		if cfgFile != "" {
			abs, err := filepath.Abs(cfgFile)
			if err != nil {
				return err
			}
			svcArgs = append(svcArgs, "--config", abs)
		}

		svcConfig := &service.Config{
			Name:        "detect-client",
			DisplayName: "Live Detection Client",
			Description: "Samples frames and overlays remote object detection results",
			Arguments:   svcArgs,
		}

		s, err := service.New(&program{}, svcConfig)
		if err != nil {
			return err
		}

		if action == "run" {
			return s.Run()
		}
		if action == "install" && cfgFile == "" {
			logger.Warn("Service", "No --config given; the service will run with defaults and environment only")
		}
		if err := service.Control(s, action); err != nil {
			return fmt.Errorf("failed to %s service: %w", action, err)
		}
		fmt.Printf("Service action '%s' completed successfully.\n", action)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}
