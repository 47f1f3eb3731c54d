package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hpn-c-relay",
	Short: "HPN C-Relay - OpenAI-compatible relay for claude.ai sessions",
	Long: `HPN C-Relay accepts OpenAI chat completion requests and serves them
through a pool of claude.ai web sessions.

Each request runs in a fresh conversation. Failed attempts move on to the
next session, and finished conversations are deleted in the background.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: search ./config.yaml, ./configs, /etc/hpn-c-relay)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "force debug logging")
}
