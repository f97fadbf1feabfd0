package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"whisper-server/internal/bootstrap"
	"whisper-server/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI entry for the transcription server.
func newRootCommand() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "whisper-server",
		Short:         "Local speech-to-text job server with SSE streaming",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(configPath, func(s *config.Settings) {
				if cmd.Flags().Changed("host") {
					s.Host = host
				}
				if cmd.Flags().Changed("port") {
					s.Port = port
				}
				if cmd.Flags().Changed("log-level") {
					s.LogLevel = logLevel
				}
			})
			if err != nil {
				return err
			}
			return app.Run()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "settings file path")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&port, "port", 8756, "listen port")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")

	return cmd
}
