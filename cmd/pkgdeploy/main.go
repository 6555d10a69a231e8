// cmd/pkgdeploy/main.go - command-line entry point for pkgdeploy.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/windowsadmins/pkgdeploy/pkg/config"
	"github.com/windowsadmins/pkgdeploy/pkg/facts"
	"github.com/windowsadmins/pkgdeploy/pkg/logging"
	"github.com/windowsadmins/pkgdeploy/pkg/utils"
	"github.com/windowsadmins/pkgdeploy/pkg/version"
)

// Exit codes.
const (
	exitOK            = 0
	exitFatal         = 1
	exitActionsFailed = 2
)

// errActionsFailed is returned by a command when --fail-on-error is set and
// at least one action failed.
var errActionsFailed = errors.New("one or more actions failed")

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath  string
	root        string
	checkOnly   bool
	failOnError bool
	verbosity   int
}

// app carries what the subcommands need once the pre-run has finished.
type app struct {
	opts    globalOptions
	cfg     *config.Configuration
	console *logging.Console
}

func main() {
	utils.PatchWindowsArgs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{console: logging.NewConsole(os.Stdout)}
	rootCmd := newRootCommand(a)

	err := rootCmd.ExecuteContext(ctx)
	logging.CloseLogger()
	os.Exit(exitCode(a, err))
}

func exitCode(a *app, err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errActionsFailed):
		a.console.Warning("%v", err)
		return exitActionsFailed
	default:
		a.console.Error("Error: %v", err)
		return exitFatal
	}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pkgdeploy",
		Short:         "Drive Windows Installer from a package.manifest",
		Long:          `pkgdeploy reads <root>\package.manifest and uninstalls preamble applications, installs outdated prerequisites and installs, uninstalls or repairs the main package.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}
	registerGlobalFlags(rootCmd.PersistentFlags(), &a.opts)

	rootCmd.AddCommand(
		newShowManifestCommand(a),
		newShowConfigCommand(a),
		newOperationCommand(a, opUninstallPreambles),
		newOperationCommand(a, opInstallPrereqs),
		newOperationCommand(a, opInstall),
		newOperationCommand(a, opUninstall),
		newOperationCommand(a, opRepair),
		newOperationCommand(a, opInstallAll),
		newVersionCommand(),
	)
	return rootCmd
}

func registerGlobalFlags(fs *pflag.FlagSet, o *globalOptions) {
	fs.StringVar(&o.configPath, "config", "", "Path to the configuration file (default "+config.ConfigPath+")")
	fs.StringVar(&o.root, "root", "", "Package root containing package.manifest (default RootPath from configuration)")
	fs.BoolVar(&o.checkOnly, "check-only", false, "Make and log every decision but start no installer")
	fs.BoolVar(&o.failOnError, "fail-on-error", false, "Exit with code 2 when any action failed")
	fs.CountVarP(&o.verbosity, "verbose", "v", "Increase verbosity (-v for INFO, -vv for DEBUG)")
}

// setup loads configuration, applies flag overrides and starts the session log.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.LoadConfig(a.opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if a.opts.root != "" {
		cfg.RootPath = a.opts.root
	}
	if a.opts.checkOnly {
		cfg.CheckOnly = true
	}
	// 0 keeps LogLevel from the configuration, 1 => INFO, 2+ => DEBUG
	switch {
	case a.opts.verbosity == 1:
		cfg.LogLevel = "INFO"
		cfg.Verbose = true
	case a.opts.verbosity >= 2:
		cfg.LogLevel = "DEBUG"
		cfg.Verbose = true
	}

	if err := logging.Init(cfg); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.cfg = cfg

	logging.Info("pkgdeploy starting",
		"version", version.Version().Version,
		"session", logging.SessionID(),
		"root", cfg.RootPath,
		"check_only", cfg.CheckOnly)
	facts.Log(ctx)
	return nil
}
