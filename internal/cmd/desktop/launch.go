package desktop

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/flashdesk/internal/config"
	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/logging"
	"github.com/Iron-Ham/flashdesk/internal/orchestrator"
	"github.com/Iron-Ham/flashdesk/internal/session"
	"github.com/Iron-Ham/flashdesk/internal/tui"
	"github.com/Iron-Ham/flashdesk/internal/tui/styles"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// SecretEnvVar supplies the desktop password without a prompt.
const SecretEnvVar = "FLASHDESK_SECRET"

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a self-destructing cloud desktop",
	Long: `Launch a cloud desktop and keep it alive until its session timer runs out.

In a terminal this opens the dashboard, where the launch form asks for the
desktop password. With --plain, or when output is not a terminal, the launch
starts immediately and progress is printed line by line; the password is
read from ` + SecretEnvVar + ` or prompted for.

Quitting tears the desktop down.`,
	RunE: runLaunch,
}

var (
	launchClass     string
	launchImage     string
	launchPlain     bool
	launchNoBrowser bool
)

// RegisterLaunchCmd registers the launch command with the given parent command.
func RegisterLaunchCmd(parent *cobra.Command) {
	parent.AddCommand(launchCmd)

	launchCmd.Flags().StringVar(&launchClass, "class", "", "Resource class, e.g. t2.micro")
	launchCmd.Flags().StringVar(&launchImage, "image", "", "Desktop image, e.g. chrome")
	launchCmd.Flags().BoolVar(&launchPlain, "plain", false, "Print progress lines instead of the dashboard")
	launchCmd.Flags().BoolVar(&launchNoBrowser, "no-browser", false, "Do not open the desktop URL automatically")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	interactive := !launchPlain && isTerminal(os.Stdin) && isTerminal(os.Stdout)

	// Collect the secret before anything starts so a failed prompt leaves
	// nothing to clean up.
	var secret session.Secret
	if !interactive {
		if launchClass == "" || launchImage == "" {
			return errors.NewValidationError("--class and --image are required in plain mode")
		}
		secret, err = readSecret(os.LookupEnv, promptPassword(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
	}

	logger := CreateLogger(cfg)
	defer logger.Close()

	var runtimeOpts []RuntimeOption
	if cfg.Session.OpenBrowser && !launchNoBrowser {
		runtimeOpts = append(runtimeOpts, WithOpener(BrowserOpener{}))
	}
	rt, err := NewRuntime(cfg, logger, runtimeOpts...)
	if err != nil {
		secret.Clear()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	rt.Start(runCtx)
	watchConfig(rt, logger)

	if interactive {
		err = runDashboard(ctx, rt, cfg, logger)
	} else {
		err = runPlain(ctx, rt, secret, cmd.OutOrStdout())
	}

	// Tear down whatever is still alive before exiting.
	if rt.Orchestrator.Snapshot().State.HoldsResource() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Terminating desktop...")
	}
	cancel()
	<-rt.Orchestrator.Done()
	return err
}

func runDashboard(ctx context.Context, rt *Runtime, cfg *config.Config, logger *logging.Logger) error {
	palette, err := styles.ResolvePalette(cfg.TUI.Theme)
	if err != nil {
		logger.Warn("falling back to default theme", "theme", cfg.TUI.Theme, "error", err.Error())
		palette = styles.DefaultPalette()
	}

	app := tui.NewApp(rt.Orchestrator, rt.Bus,
		tui.WithStyles(styles.New(palette)),
		tui.WithOpener(BrowserOpener{}),
		tui.WithLaunchDefaults(launchClass, launchImage),
	)
	return app.Run(ctx)
}

func runPlain(ctx context.Context, rt *Runtime, secret session.Secret, out io.Writer) error {
	// Subscribe before launching so no transition is missed.
	feed := tui.NewFeed(rt.Bus)
	defer feed.Close()

	err := rt.Orchestrator.Launch(orchestrator.LaunchRequest{
		ResourceClass: launchClass,
		Image:         launchImage,
		Secret:        secret,
	})
	secret.Clear()
	if err != nil {
		return err
	}
	return watchPlain(ctx, feed.C(), out, rt.Orchestrator.AddressURL)
}

// watchConfig applies config file edits to later launches.
func watchConfig(rt *Runtime, logger *logging.Logger) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return
	}
	config.Watch(viper.GetViper(), func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn("ignoring invalid config change", "path", path, "error", err.Error())
			return
		}
		if err := rt.Reload(cfg, path); err != nil {
			logger.Warn("failed to apply config change", "path", path, "error", err.Error())
			return
		}
		logger.Info("config reloaded", "path", path)
	})
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// readSecret returns the secret from the environment, falling back to
// prompt.
func readSecret(lookup func(string) (string, bool), prompt func() ([]byte, error)) (session.Secret, error) {
	if v, ok := lookup(SecretEnvVar); ok && v != "" {
		return session.NewSecret(v), nil
	}
	if prompt == nil {
		return session.Secret{}, fmt.Errorf("%s is not set", SecretEnvVar)
	}
	b, err := prompt()
	if err != nil {
		return session.Secret{}, fmt.Errorf("failed to read password: %w", err)
	}
	secret := session.NewSecret(string(b))
	clear(b)
	return secret, nil
}

// promptPassword reads a password from the terminal without echo. It
// returns nil when stdin is not a terminal.
func promptPassword(prompt io.Writer) func() ([]byte, error) {
	if !isTerminal(os.Stdin) {
		return nil
	}
	return func() ([]byte, error) {
		fmt.Fprint(prompt, "Desktop password: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(prompt)
		return b, err
	}
}
