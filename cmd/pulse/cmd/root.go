package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelsocial/pulse/internal/session"
)

const defaultServer = "http://localhost:8090"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "pulse",
	Short:        "Terminal client for a pulse presence server",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.pulse.yaml)")
	rootCmd.PersistentFlags().String("server", "", "presence server base URL")
	rootCmd.PersistentFlags().String("user", "", "identity to connect as")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pulse")
	}
	viper.SetEnvPrefix("pulse")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// openSession builds a session from env config overlaid with flags,
// connects, and blocks until the transport is up.
func openSession(ctx context.Context) (*session.Session, error) {
	cfg, err := session.LoadConfig()
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("server"); v != "" {
		cfg.APIBase = v
	}
	if v := viper.GetString("user"); v != "" {
		cfg.Identity = v
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultServer
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("an identity is required (--user or PULSE_IDENTITY)")
	}

	s := session.New(cfg, nil, newLogger())
	s.Connect()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if !s.WaitConnected(waitCtx) {
		s.Close()
		return nil, fmt.Errorf("could not reach %s", cfg.APIBase)
	}
	return s, nil
}
