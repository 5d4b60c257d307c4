package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "xpouch",
		Short: "Task session engine for multi-expert assistant conversations",
		Long: `xpouch tracks the live state of a decomposed assistant task session:
it consumes the server's progress-event stream, keeps a versioned task view,
and reconciles against the authoritative snapshot after reloads.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to xpouch.yaml (default: ./xpouch.yaml)")
	root.AddCommand(newWatchCommand())
	root.AddCommand(newServeDevCommand())
	return root
}
