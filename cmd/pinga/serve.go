package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pinga/internal/app"
	"pinga/internal/config"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath string
		envFile string
		grace   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, delivery pipeline and optional Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			a, err := app.New(ctx, cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case s := <-sig:
				reason = app.StopSIGINT
				if s == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}
			runErr := a.Err()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./pinga.yaml", "path to config file (.json, .yaml or .yml)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config; missing file is ignored")
	cmd.Flags().DurationVar(&grace, "shutdown-timeout", 10*time.Second, "maximum time to wait for a graceful stop")
	return cmd
}
