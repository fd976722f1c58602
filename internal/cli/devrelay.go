package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/convento/voicemesh/internal/relaytest"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagDevAddr string

// devrelay runs the in-memory directory and signal relay for local testing
// of multiple clients on one machine.
var devRelayCmd = &cobra.Command{
	Use:   "devrelay",
	Short: "Run a local in-memory signaling relay and room directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		srv := &http.Server{
			Addr:    flagDevAddr,
			Handler: relaytest.NewServer().Router(),
		}
		go func() {
			log.Info().Str("module", "cli").Str("addr", flagDevAddr).Msg("dev relay listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("dev relay error")
			}
		}()

		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	devRelayCmd.Flags().StringVar(&flagDevAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(devRelayCmd)
}
