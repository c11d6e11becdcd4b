package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/genbi-gateway/internal/config"
	"github.com/suPer8Hu/genbi-gateway/internal/logging"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "unknown"
)

// runtime is what every subcommand gets after the root's PersistentPreRunE.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func NewRootCmd() *cobra.Command {
	rt := &runtime{}
	var verbose bool

	root := &cobra.Command{
		Use:   "genbi",
		Short: "Gateway for a generative-BI question answering backend",
		Long: `genbi owns the single WebSocket to a generative-BI backend, keeps the chat
sessions locally and correlates every streamed progress and answer frame with the
session that asked.

Quick Start:
  genbi serve                      # run the HTTP gateway
  genbi ask "top 10 products"      # ask one question from the terminal
  genbi sessions                   # list sessions known to the backend`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			rt.cfg = config.Load()
			if verbose {
				rt.cfg.LogLevel = "debug"
			}
			logger, err := logging.New(rt.cfg.LogLevel, rt.cfg.LogDev)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(rt),
		newAskCmd(rt),
		newSessionsCmd(rt),
		newTokenCmd(rt),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
