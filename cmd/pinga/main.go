package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pinga",
		Short: "Webhook analysis and notification routing service",
		Long: `pinga receives webhooks from CI/CD and hosting platforms, turns them into
readable notifications and delivers them to each recipient's Telegram and
Discord channels according to per-channel rules.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newAnalyzeCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
