// Package main implements the entry point for the catalog service.
// The default command serves HTTP; warm and sitemap are one-shot tools
// against the same store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "cinematicd",
	Short:         "Movie catalog with an origin-backed cache, presence and mirror registry",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, warmCmd, sitemapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cinematicd: %v\n", err)
		os.Exit(1)
	}
}
