package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/pkgdeploy/pkg/blocking"
	"github.com/windowsadmins/pkgdeploy/pkg/config"
	"github.com/windowsadmins/pkgdeploy/pkg/installer"
	"github.com/windowsadmins/pkgdeploy/pkg/logging"
	"github.com/windowsadmins/pkgdeploy/pkg/manifest"
	"github.com/windowsadmins/pkgdeploy/pkg/process"
	"github.com/windowsadmins/pkgdeploy/pkg/registry"
	"github.com/windowsadmins/pkgdeploy/pkg/report"
	"github.com/windowsadmins/pkgdeploy/pkg/version"
)

// operation binds a subcommand to an Executor method.
type operation struct {
	name  string
	short string
	run   func(e *process.Executor, ctx context.Context, root string) (report.Results, error)
}

var (
	opUninstallPreambles = operation{process.OpUninstallPreambles, "Uninstall preamble applications that are installed", (*process.Executor).UninstallPreambles}
	opInstallPrereqs     = operation{process.OpInstallPrereqs, "Install missing or outdated prerequisites", (*process.Executor).InstallPrereqs}
	opInstall            = operation{process.OpInstall, "Install the main package", (*process.Executor).InstallPackage}
	opUninstall          = operation{process.OpUninstall, "Uninstall the main package (MSI only)", (*process.Executor).UninstallPackage}
	opRepair             = operation{process.OpRepair, "Repair the main package (MSI only)", (*process.Executor).RepairPackage}
	opInstallAll         = operation{process.OpInstallAll, "Uninstall preambles, install prerequisites, then install the package", (*process.Executor).InstallWithPrereqs}
)

func newOperationCommand(a *app, op operation) *cobra.Command {
	return &cobra.Command{
		Use:   op.name,
		Short: op.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOperation(cmd.Context(), op)
		},
	}
}

func (a *app) newExecutor() *process.Executor {
	e := process.New(a.cfg, registry.NewLiveReader(), installer.NewExecRunner(a.cfg))
	e.Blocking = blocking.New()
	return e
}

func (a *app) runOperation(ctx context.Context, op operation) error {
	root := a.cfg.RootPath
	rep := &report.Report{
		Session:   logging.SessionID(),
		Operation: op.name,
		Root:      root,
		CheckOnly: a.cfg.CheckOnly,
		Started:   time.Now(),
	}
	if m, err := manifest.Load(root); err == nil {
		rep.Package, rep.Version = m.ID, m.Version
	}

	results, runErr := op.run(a.newExecutor(), ctx, root)
	rep.Finish(results, runErr, time.Now())

	if dir := logging.CurrentLogDir(); dir != "" {
		if err := rep.Write(dir); err != nil {
			logging.Warn("Failed to write run report", "dir", dir, "error", err)
		}
	}
	a.printResults(results)

	if runErr != nil {
		return runErr
	}
	logging.Info("Operation finished", "operation", op.name, "summary", results.SummaryString())
	if results.RebootRequired() {
		a.console.Warning("A reboot is required to complete the installation.")
	}
	if results.Failed() {
		if a.opts.failOnError {
			return errActionsFailed
		}
		a.console.Warning("%s finished with failures: %s", op.name, results.SummaryString())
		return nil
	}
	a.console.Success("%s finished: %s", op.name, results.SummaryString())
	return nil
}

func (a *app) printResults(results report.Results) {
	for _, r := range results {
		line := fmt.Sprintf("%-9s %-10s %-15s %s", r.Step, r.Action, r.Outcome, r.Entry)
		switch {
		case r.Outcome.Failed():
			a.console.Error("%s  %s", line, r.Message)
		case r.Outcome == report.OutcomeRebootRequired:
			a.console.Warning("%s", line)
		default:
			a.console.Printf("%s", line)
		}
	}
}

func newShowManifestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show-manifest",
		Short: "Load, validate and print the package manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newExecutor().LoadManifest(a.cfg.RootPath)
			if err != nil {
				return err
			}
			data, err := m.Marshal()
			if err != nil {
				return fmt.Errorf("encoding manifest: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newShowConfigCommand(a *app) *cobra.Command {
	var writePath string
	cmd := &cobra.Command{
		Use:   "show-config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if writePath != "" {
				if err := config.SaveConfig(a.cfg, writePath); err != nil {
					return fmt.Errorf("writing configuration: %w", err)
				}
				logging.Info("Configuration written", "path", writePath)
				a.console.Success("Configuration written to %s", writePath)
				return nil
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("encoding configuration: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&writePath, "write", "", "Save the effective configuration as YAML to this path instead of printing it")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Overrides the root pre-run: no configuration or session log needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			if full {
				version.PrintFull(cmd.OutOrStdout())
				return
			}
			version.Print(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Include branch, revision and build details")
	return cmd
}
