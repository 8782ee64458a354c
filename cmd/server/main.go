// CommonRoom server: a shared 2D lobby with chat and pairwise video sessions.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "commonroom",
	Short: "CommonRoom realtime server",
	Long: `CommonRoom serves the lobby WebSocket and brokers video sessions.

  commonroom serve                                   Start the server
  commonroom users add --email a@b.org --name alice  Create a user
  commonroom users token --email a@b.org             Issue a login token`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger switches to human readable output in debug mode.
func setupLogger(mode string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
