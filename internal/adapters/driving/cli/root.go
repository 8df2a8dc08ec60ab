// Package cli implements the folderd command-line interface: the daemon
// itself plus thin protocol-client commands for managing folders.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/logger"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	flagVerbose bool
	flagAddr    string
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "folderd",
	Short: "Index document folders and search them semantically",
	Long: `folderd is a daemon that watches configured folders, indexes their
documents into vector representations and serves semantic search to
connected clients over a persistent protocol and MCP.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(flagVerbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", domain.DefaultListenAddr, "daemon protocol address")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config directory (default ~/.folderd)")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion overrides the reported version.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}
