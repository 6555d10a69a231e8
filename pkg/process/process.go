// pkg/process/process.go - executes a package manifest: preamble uninstalls, prerequisites and the main package.

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/pkgdeploy/pkg/config"
	"github.com/windowsadmins/pkgdeploy/pkg/installer"
	"github.com/windowsadmins/pkgdeploy/pkg/logging"
	"github.com/windowsadmins/pkgdeploy/pkg/manifest"
	"github.com/windowsadmins/pkgdeploy/pkg/registry"
	"github.com/windowsadmins/pkgdeploy/pkg/report"
)

// Operation names, also used in reports and log file names.
const (
	OpUninstallPreambles = "uninstall-preambles"
	OpInstallPrereqs     = "install-prereqs"
	OpInstall            = "install"
	OpUninstall          = "uninstall"
	OpRepair             = "repair"
	OpInstallAll         = "install-all"
)

// UnsupportedPackageTypeError is returned when the manifest's package type
// cannot be used for the requested operation.
type UnsupportedPackageTypeError struct {
	PackageType manifest.PackageType
	Operation   string
}

func (e *UnsupportedPackageTypeError) Error() string {
	return fmt.Sprintf("package type %q is not supported for %s", e.PackageType, e.Operation)
}

// BlockingChecker reports which of the given applications are running.
type BlockingChecker interface {
	RunningApps(ctx context.Context, apps []string) []string
}

// Executor runs manifest operations against a registry and an installer runner.
type Executor struct {
	Registry registry.Reader
	Runner   installer.Runner
	Config   *config.Configuration
	Roots    []registry.Root
	// Blocking may be nil, in which case no blocking check is made.
	Blocking BlockingChecker
}

// New returns an Executor scanning the default uninstall roots.
func New(cfg *config.Configuration, reg registry.Reader, runner installer.Runner) *Executor {
	return &Executor{
		Registry: reg,
		Runner:   runner,
		Config:   cfg,
		Roots:    registry.DefaultUninstallRoots,
	}
}

// LoadManifest reads the manifest under root.
func (e *Executor) LoadManifest(root string) (*manifest.Manifest, error) {
	m, err := manifest.Load(root)
	if err != nil {
		logging.Error("Failed to load manifest", "root", root, "error", err)
		return nil, err
	}
	logging.Info("Loaded manifest",
		"id", m.ID,
		"version", m.Version,
		"package_type", m.PackageType,
		"preambles", len(m.Preambles),
		"prereqs", len(m.Prereqs))
	return m, nil
}

// UninstallPreambles removes every preamble application that is installed.
func (e *Executor) UninstallPreambles(ctx context.Context, root string) (report.Results, error) {
	m, err := e.LoadManifest(root)
	if err != nil {
		return nil, err
	}
	return e.uninstallPreambles(ctx, m)
}

// InstallPrereqs installs every prerequisite whose check value is missing or
// below its target.
func (e *Executor) InstallPrereqs(ctx context.Context, root string) (report.Results, error) {
	m, err := e.LoadManifest(root)
	if err != nil {
		return nil, err
	}
	return e.installPrereqs(ctx, m)
}

// InstallPackage installs the main package.
func (e *Executor) InstallPackage(ctx context.Context, root string) (report.Results, error) {
	m, err := e.LoadManifest(root)
	if err != nil {
		return nil, err
	}
	return e.installPackage(ctx, m)
}

// UninstallPackage removes the main package. Only MSI packages can be removed.
func (e *Executor) UninstallPackage(ctx context.Context, root string) (report.Results, error) {
	m, err := e.LoadManifest(root)
	if err != nil {
		return nil, err
	}
	if m.PackageType != manifest.MsiPackage {
		return nil, e.unsupported(m, OpUninstall)
	}
	cmd := e.msiexec(installer.MsiUninstallArgs(m.InstallerPath(), e.msiLogPath(m, OpUninstall)))
	res := e.run(ctx, cmd)
	return report.Results{e.record(report.StepPackage, m.ID, OpUninstall, res)}, nil
}

// RepairPackage reinstalls every file of the main package. Only MSI packages
// can be repaired.
func (e *Executor) RepairPackage(ctx context.Context, root string) (report.Results, error) {
	m, err := e.LoadManifest(root)
	if err != nil {
		return nil, err
	}
	if m.PackageType != manifest.MsiPackage {
		return nil, e.unsupported(m, OpRepair)
	}
	cmd := e.msiexec(installer.MsiRepairArgs(m.InstallerPath(), e.msiLogPath(m, OpRepair)))
	res := e.run(ctx, cmd)
	return report.Results{e.record(report.StepPackage, m.ID, OpRepair, res)}, nil
}

// InstallWithPrereqs runs preamble uninstalls, prerequisite installs and the
// package install in that order. A failure in one step does not stop the
// next, and nothing is rolled back. An unsupported package type is reported
// before any action is taken.
func (e *Executor) InstallWithPrereqs(ctx context.Context, root string) (report.Results, error) {
	m, err := e.LoadManifest(root)
	if err != nil {
		return nil, err
	}
	if !installable(m.PackageType) {
		return nil, e.unsupported(m, OpInstallAll)
	}

	var all report.Results
	steps := []func(context.Context, *manifest.Manifest) (report.Results, error){
		e.uninstallPreambles,
		e.installPrereqs,
		e.installPackage,
	}
	for _, step := range steps {
		results, err := step(ctx, m)
		all = append(all, results...)
		if err != nil {
			return all, err
		}
	}

	logging.Info("Install with prerequisites finished", "id", m.ID, "summary", all.SummaryString())
	return all, nil
}

func (e *Executor) uninstallPreambles(ctx context.Context, m *manifest.Manifest) (report.Results, error) {
	var results report.Results
	for _, p := range m.Preambles {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if !strings.EqualFold(p.PreambleType, manifest.PreambleUninstallPackage) {
			logging.Info("Ignoring preamble", "type", p.PreambleType, "data", p.Data)
			results = append(results, report.ActionResult{
				Step:    report.StepPreamble,
				Entry:   p.Data,
				Action:  "ignore",
				Outcome: report.OutcomeNotNeeded,
				Message: fmt.Sprintf("preamble type %q is not acted upon", p.PreambleType),
			})
			continue
		}

		entry, found := registry.FindUninstallEntry(e.Registry, e.Roots, p.Data)
		if !found {
			logging.Info("Preamble application not installed", "product_code", p.Data)
			results = append(results, report.ActionResult{
				Step:    report.StepPreamble,
				Entry:   p.Data,
				Action:  OpUninstall,
				Outcome: report.OutcomeNotNeeded,
				Message: "not installed",
			})
			continue
		}

		logging.Info("Uninstalling preamble application",
			"product_code", entry.KeyName,
			"name", entry.DisplayName,
			"version", entry.DisplayVersion,
			"key", entry.Path())
		res := e.run(ctx, e.msiexec(installer.MsiUninstallArgs(entry.KeyName, "")))
		results = append(results, e.record(report.StepPreamble, p.Data, OpUninstall, res))
	}
	return results, nil
}

func (e *Executor) installPrereqs(ctx context.Context, m *manifest.Manifest) (report.Results, error) {
	var results report.Results
	for _, p := range m.Prereqs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		hive, path := registry.ParseKeyPath(p.CheckKey)
		entryName := fmt.Sprintf(`%s\%s\%s`, hive, path, p.CheckValue)

		needed, reason := e.prereqNeeded(hive, path, p)
		if !needed {
			outcome := report.OutcomeNotNeeded
			if reason != reasonSatisfied {
				outcome = report.OutcomeCheckFailed
			}
			results = append(results, report.ActionResult{
				Step:    report.StepPrereq,
				Entry:   entryName,
				Action:  "check",
				Outcome: outcome,
				Message: reason,
			})
			continue
		}

		args, err := installer.SplitCommandLine(p.CommandLine)
		if err != nil {
			logging.Warn("Invalid prerequisite command line", "path", p.Path, "error", err)
			results = append(results, report.ActionResult{
				Step:    report.StepPrereq,
				Entry:   entryName,
				Action:  OpInstall,
				Outcome: report.OutcomeFailed,
				Message: err.Error(),
			})
			continue
		}

		logging.Info("Installing prerequisite", "check", entryName, "reason", reason, "path", p.Path)
		cmd := installer.Command{Path: p.InstallerPath(m.Root), Args: args, Dir: m.Root, RawArgs: p.CommandLine}
		res := e.run(ctx, cmd)
		results = append(results, e.record(report.StepPrereq, entryName, OpInstall, res))
	}
	return results, nil
}

const (
	reasonSatisfied   = "installed version satisfies target"
	reasonAccessError = "check value could not be read"
)

// prereqNeeded decides whether a prerequisite must be installed and why.
func (e *Executor) prereqNeeded(hive registry.Hive, path string, p manifest.PrereqEntry) (bool, string) {
	val, err := registry.LookupValue(e.Registry, hive, path, p.CheckValue)
	switch {
	case errors.Is(err, registry.ErrNotExist):
		logging.Info("Prerequisite check value not present", "key", path, "value", p.CheckValue)
		return true, "check value not present"
	case err != nil:
		if e.Config.PrereqAccessPolicy == config.PrereqPolicyInstall {
			logging.Warn("Prerequisite check value unreadable, installing", "key", path, "value", p.CheckValue, "error", err)
			return true, reasonAccessError
		}
		logging.Warn("Prerequisite check value unreadable, skipping", "key", path, "value", p.CheckValue, "error", err)
		return false, fmt.Sprintf("%s: %v", reasonAccessError, err)
	}

	installed, err := val.Version()
	if err != nil {
		logging.Warn("Prerequisite check value is not a version, treating as outdated",
			"key", path, "value", p.CheckValue, "data", val.Text(), "error", err)
		return true, fmt.Sprintf("installed value %q is not a version", val.Text())
	}

	if installed.LessThan(p.CheckValueTarget) {
		logging.Info("Prerequisite outdated",
			"key", path, "value", p.CheckValue,
			"installed", installed.String(), "target", p.CheckValueTarget.String())
		return true, fmt.Sprintf("installed %s is below target %s", installed, p.CheckValueTarget)
	}

	logging.Info("Prerequisite satisfied",
		"key", path, "value", p.CheckValue,
		"installed", installed.String(), "target", p.CheckValueTarget.String())
	return false, reasonSatisfied
}

func (e *Executor) installPackage(ctx context.Context, m *manifest.Manifest) (report.Results, error) {
	var cmd installer.Command
	switch m.PackageType {
	case manifest.MsiPackage:
		cmd = e.msiexec(installer.MsiInstallArgs(m.InstallerPath(), e.msiLogPath(m, OpInstall)))
	case manifest.LegacySetupPackage:
		cmd = installer.Command{
			Path: m.InstallerPath(),
			Args: installer.LegacySetupArgs(e.logPath(m.LogFileName())),
			Dir:  m.Root,
		}
	default:
		return nil, e.unsupported(m, OpInstall)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.warnBlocking(ctx, m)

	logging.Info("Installing package", "id", m.ID, "version", m.Version, "installer", m.InstallerFile)
	res := e.run(ctx, cmd)
	return report.Results{e.record(report.StepPackage, m.ID, OpInstall, res)}, nil
}

func (e *Executor) warnBlocking(ctx context.Context, m *manifest.Manifest) {
	if e.Blocking == nil || len(m.BlockingApplications) == 0 {
		return
	}
	if running := e.Blocking.RunningApps(ctx, m.BlockingApplications); len(running) > 0 {
		logging.Warn("Blocking applications are running", "id", m.ID, "running_apps", running)
	}
}

// run starts cmd unless the configuration is check-only.
func (e *Executor) run(ctx context.Context, cmd installer.Command) installer.Result {
	if e.Config.CheckOnly {
		logging.Info("CheckOnly mode: would run", "command", cmd.String())
		return installer.Result{Command: cmd, Status: installer.StatusSkipped, ExitCode: -1}
	}
	e.ensureLogDir(cmd)
	return e.Runner.Run(ctx, cmd)
}

// record turns a runner result into a report entry and logs it.
func (e *Executor) record(step, entry, action string, res installer.Result) report.ActionResult {
	ar := report.FromInstaller(step, entry, action, res)
	kv := []interface{}{"step", step, "entry", entry, "action", action, "status", res.Status}
	if ar.ExitCode != nil {
		kv = append(kv, "exit_code", *ar.ExitCode)
	}
	switch {
	case res.Status == installer.StatusRebootRequired:
		logging.Warn("Action succeeded, reboot required", kv...)
	case res.Status.OK():
		logging.Info("Action finished", kv...)
	default:
		kv = append(kv, "error", res.Err)
		logging.Warn("Action failed", kv...)
	}
	return ar
}

func (e *Executor) msiexec(args []string) installer.Command {
	path := e.Config.MsiexecPath
	if path == "" {
		path = "msiexec.exe"
	}
	return installer.Command{Path: path, Args: args}
}

// msiLogPath is <LogPath>\<ID>-<Version>-msi-<op>.log.
func (e *Executor) msiLogPath(m *manifest.Manifest, op string) string {
	return e.logPath(fmt.Sprintf("%s-%s-msi-%s.log", m.ID, m.Version, op))
}

func (e *Executor) logPath(name string) string {
	if e.Config.LogPath == "" {
		return ""
	}
	return filepath.Join(e.Config.LogPath, name)
}

// ensureLogDir creates the installer log directory; msiexec refuses to log
// into a directory that does not exist.
func (e *Executor) ensureLogDir(cmd installer.Command) {
	if e.Config.LogPath == "" {
		return
	}
	for _, a := range cmd.Args {
		if strings.HasPrefix(a, e.Config.LogPath) {
			if err := os.MkdirAll(e.Config.LogPath, 0o755); err != nil {
				logging.Warn("Failed to create installer log directory", "path", e.Config.LogPath, "error", err)
			}
			return
		}
	}
}

func (e *Executor) unsupported(m *manifest.Manifest, op string) error {
	err := &UnsupportedPackageTypeError{PackageType: m.PackageType, Operation: op}
	logging.Error("Unsupported package type", "id", m.ID, "package_type", m.PackageType, "operation", op)
	return err
}

func installable(t manifest.PackageType) bool {
	return t == manifest.MsiPackage || t == manifest.LegacySetupPackage
}
