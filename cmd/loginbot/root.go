package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "loginbot",
		Short:         "Automates login and data-entry workflows for many users",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the loginbot version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loginbot v%s\n", version)
		},
	}
}

// settings holds everything the run command needs to wire the service.
type settings struct {
	TargetURL    string
	Headless     bool
	LocatorsPath string
	RedisURL     string

	OCREndpoint string
	OCRAPIKey   string
	OCRAPIHost  string
	OCRTimeout  time.Duration
}

// loadSettings reads configuration from ~/.loginbot/config.yaml (if present)
// and LOGINBOT_* environment variables; environment wins.
func loadSettings() (settings, error) {
	v := viper.New()
	v.SetEnvPrefix("loginbot")
	v.AutomaticEnv()

	v.SetDefault("headless", true)
	v.SetDefault("ocr_timeout", "15s")

	if homeDir, err := os.UserHomeDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(homeDir, ".loginbot"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return settings{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	s := settings{
		TargetURL:    v.GetString("target_url"),
		Headless:     v.GetBool("headless"),
		LocatorsPath: v.GetString("locators"),
		RedisURL:     v.GetString("redis_url"),
		OCREndpoint:  v.GetString("ocr_endpoint"),
		OCRAPIKey:    v.GetString("ocr_api_key"),
		OCRAPIHost:   v.GetString("ocr_api_host"),
		OCRTimeout:   v.GetDuration("ocr_timeout"),
	}

	if s.TargetURL == "" {
		return settings{}, fmt.Errorf("target_url is required (set LOGINBOT_TARGET_URL)")
	}
	if s.LocatorsPath == "" {
		return settings{}, fmt.Errorf("locators path is required (set LOGINBOT_LOCATORS)")
	}
	if s.RedisURL == "" {
		return settings{}, fmt.Errorf("redis_url is required (set LOGINBOT_REDIS_URL)")
	}
	return s, nil
}
