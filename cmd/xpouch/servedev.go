package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/devserver"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
)

func newServeDevCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve-dev",
		Short: "Run the local mock backend with a scripted demo session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serverConfig := devserver.Config{
				Host:       cfg.DevServer.Host,
				Port:       cfg.DevServer.Port,
				EnableCORS: cfg.DevServer.EnableCORS,
				Debug:      cfg.DevServer.Debug,
			}
			if port != 0 {
				serverConfig.Port = port
			}

			server := devserver.NewServer(serverConfig, devserver.DefaultScript(), logging.NewComponentLogger("devserver"))
			fmt.Printf("mock backend on http://%s:%d (conversation conv-demo)\n", serverConfig.Host, serverConfig.Port)
			return server.Start(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
