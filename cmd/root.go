// Package cmd defines the CLI commands for the crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "A browser-assisted crawler for signed social-media APIs.",
		Long: `crawler drives authenticated headless-browser sessions against
social-media platforms whose APIs require request signatures computed by
in-page JavaScript. It holds the session, evaluates the platform's signing
routine in the page, and issues the signed requests over a lightweight HTTP
client under per-session rate limits.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
