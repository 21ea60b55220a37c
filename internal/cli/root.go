// Package cli contains the callclient commands.
package cli

import (
	"fmt"
	"os"

	"github.com/namithm70/fitness-sub000/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "callclient",
	Short: "P2P audio/video call client for the fitness app",
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		setupLogging(debug)
	},
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultFile, err := config.DefaultClientFile()
	if err != nil {
		defaultFile = "callclient.toml"
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultFile, "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print debugging information")
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// loadConfig reads the client config; the --debug flag wins over the file.
func loadConfig(cmd *cobra.Command) (*viper.Viper, *config.ClientConfig, error) {
	v, cfg, err := config.LoadClient(configFile)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debug
	} else if cfg.Debug {
		setupLogging(true)
	}
	return v, cfg, nil
}
