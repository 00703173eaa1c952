package cmd

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/flashdesk/internal/config"
	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/tui/styles"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize flashdesk configuration",
	Long: `Inspect and initialize flashdesk configuration.

Configuration is read from $HOME/.config/flashdesk/config.yaml (or the file
given with --config). Every key can also be set through an environment
variable prefixed with FLASHDESK_, e.g. FLASHDESK_SESSION_DURATION_SECONDS=300.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), configFileInUse())
	},
}

var configThemeCmd = &cobra.Command{
	Use:   "theme",
	Short: "List and export dashboard color themes",
}

var configThemeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in themes",
	Run: func(cmd *cobra.Command, args []string) {
		current := viper.GetString("tui.theme")
		for _, name := range styles.BuiltinThemes() {
			marker := "  "
			if name == current {
				marker = "* "
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", marker, name)
		}
	},
}

var configThemeExportCmd = &cobra.Command{
	Use:   "export <theme> [file]",
	Short: "Export a built-in theme as a YAML theme file",
	Long: `Export a built-in theme as a YAML theme file.

Edit the exported file and point tui.theme at it to use a custom palette.
Without a file argument the theme is written to stdout.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runConfigThemeExport,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd, configThemeCmd)
	configThemeCmd.AddCommand(configThemeListCmd, configThemeExportCmd)

	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing config file")
}

// configFileInUse returns the file viper read, or the default location.
func configFileInUse() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return config.ConfigFile()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# no config file found; showing defaults and environment overrides")
	}
	_, err = out.Write(data)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFileInUse()
	if err := config.WriteDefault(path, configInitForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
	return nil
}

func runConfigThemeExport(cmd *cobra.Command, args []string) error {
	data, err := styles.ExportTheme(styles.ThemeName(args[0]))
	if err != nil {
		return err
	}
	if len(args) == 1 {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(args[1], data, 0o644); err != nil {
		return fmt.Errorf("writing theme file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported theme %s to %s\n", args[0], args[1])
	return nil
}
