// Package cli holds the cobra command tree for the voicemesh client.
package cli

import (
	"os"

	"github.com/convento/voicemesh/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagUsername string
	flagAPIBase  string
)

var rootCmd = &cobra.Command{
	Use:   "voicemesh",
	Short: "Voice room client connecting participants in a full WebRTC mesh",
	Long: `voicemesh joins voice rooms published by a signaling directory and
connects to every other participant directly over WebRTC. Signaling runs
over plain HTTP polling; media flows peer to peer.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagUsername, "name", "n", "", "display name to join with")
	rootCmd.PersistentFlags().StringVar(&flagAPIBase, "server", "", "directory base URL (overrides config)")
}

// loadConfig reads the config file and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagAPIBase != "" {
		cfg.APIBase = flagAPIBase
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	return cfg, nil
}

// Execute runs the command tree. Called once from main.
func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
