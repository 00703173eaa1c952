package cmd

import (
	"strings"

	"github.com/Iron-Ham/flashdesk/internal/cmd/desktop"
	"github.com/Iron-Ham/flashdesk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "flashdesk",
	Short: "On-demand, self-destructing cloud desktops",
	Long: `Flashdesk provisions a short-lived remote desktop on demand, waits for
its desktop service to come up, hands you the URL, and tears the resource
down automatically when the session timer runs out or when you ask.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/flashdesk/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	desktop.Register(rootCmd, Version)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FLASHDESK")
	// Replace dots with underscores for nested keys in env vars
	// e.g., FLASHDESK_SESSION_DURATION_SECONDS for session.duration_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
