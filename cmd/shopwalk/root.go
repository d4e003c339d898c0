package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for shopwalk.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopwalk",
		Short: "Browse storefront search results through egress proxies",
		Long: `shopwalk opens a storefront's landing page in a real browser, then
navigates to the search results for each query.

Sessions can be routed through a pool of proxies (sequentially, at random or
pinned by ID). With --optimize, images, fonts, media and tracker requests are
blocked while the landing page loads, and everything is allowed again once
the browser reaches the results page.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewProxiesCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
