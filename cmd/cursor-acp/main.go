// Package main is the cursor-acp daemon: a local OpenAI-compatible
// proxy that drives the Cursor agent CLI and hands tool calls back to
// the caller.
//
// Basic usage:
//
//	cursor-acp serve --config cursor-acp.yaml
//
// Running the binary with no subcommand starts the server with the
// default configuration.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	// A .env beside the binary is a developer convenience; absence is
	// not an error.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "cursor-acp",
		Short: "OpenAI-compatible proxy for the Cursor agent CLI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (optional)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
		RunE:  runServe,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cursor-acp %s (commit %s, built %s)\n", version, commit, date)
		},
	}

	root.AddCommand(serve, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
