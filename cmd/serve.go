package cmd

import (
	"archive-bot/api"
	"archive-bot/bot"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve status, audit snapshots and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		server := api.NewServer(cfg.OutputDir, false)

		go func() {
			<-cmd.Context().Done()
			server.Shutdown()
		}()

		cmd.Printf("Serving %s on %s\n", cfg.OutputDir, cfg.Serve.Addr)
		return server.Listen(cfg.Serve.Addr)
	},
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the scheduled archive and audit jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bot.Run(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(botCmd)
}
