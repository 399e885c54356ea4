package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"audio-transcriber/internal/bootstrap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("audio-transcriber: %v", err)
	}
}

// newRootCommand builds the CLI with the serve subcommand.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "audio-transcriber",
		Short:         "Audio transcription server with live progress streaming",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

// newServeCommand runs the HTTP server until interrupted.
func newServeCommand() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the transcription API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Secrets such as GEMINI_API_KEY may live in a local .env file.
			_ = godotenv.Load()

			app, err := bootstrap.New(configPath)
			if err != nil {
				return err
			}
			if host != "" {
				app.Config.Host = host
			}
			if port != 0 {
				app.Config.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the server config file")
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}
