package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/pkgdeploy/pkg/config"
	"github.com/windowsadmins/pkgdeploy/pkg/installer"
	"github.com/windowsadmins/pkgdeploy/pkg/installer/installertest"
	"github.com/windowsadmins/pkgdeploy/pkg/manifest"
	"github.com/windowsadmins/pkgdeploy/pkg/registry"
	"github.com/windowsadmins/pkgdeploy/pkg/registry/registrytest"
	"github.com/windowsadmins/pkgdeploy/pkg/regversion"
	"github.com/windowsadmins/pkgdeploy/pkg/report"
)

const (
	msiexecPath   = `C:\Windows\System32\msiexec.exe`
	preambleCode  = "{8C775E70-A791-4C7A-B38F-5D2E3A5B8B6D}"
	ndpKey        = `SOFTWARE\Microsoft\NET Framework Setup\NDP\v4\Full`
	vcRuntimeKey  = `SOFTWARE\Microsoft\VisualStudio\14.0\VC\Runtimes\x64`
	uninstallRoot = `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`
)

var errAccessDenied = errors.New("Access is denied.")

type fixture struct {
	root   string
	logDir string
	reg    *registrytest.Reader
	runner *installertest.Runner
	cfg    *config.Configuration
	exec   *Executor
}

func newFixture(t *testing.T, m manifest.Manifest) *fixture {
	t.Helper()
	f := &fixture{
		root:   t.TempDir(),
		logDir: t.TempDir(),
		reg:    registrytest.New(),
		runner: &installertest.Runner{},
	}
	f.cfg = &config.Configuration{
		MsiexecPath:        msiexecPath,
		LogPath:            f.logDir,
		PrereqAccessPolicy: config.PrereqPolicySkip,
	}
	f.exec = New(f.cfg, f.reg, f.runner)

	data, err := m.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifest.Path(f.root), data, 0o644))
	return f
}

func msiManifest() manifest.Manifest {
	return manifest.Manifest{
		PackageType:   manifest.MsiPackage,
		InstallerFile: "ContosoAgent.msi",
		ID:            "ContosoAgent",
		Version:       "2.1.0",
	}
}

func prereq(key, value string, target regversion.Version) manifest.PrereqEntry {
	return manifest.PrereqEntry{
		CheckKey:         key,
		CheckValue:       value,
		CheckValueTarget: target,
		Path:             `prereqs\setup.exe`,
		CommandLine:      `/q /norestart /log "C:\Temp\prereq log.txt"`,
	}
}

func (f *fixture) installPreambleProduct() {
	f.reg.SetString(registry.LocalMachine, uninstallRoot+`\`+preambleCode, "DisplayName", "Contoso Legacy Agent")
}

func TestInstallWithPrereqsRunsThreeActionsInOrder(t *testing.T) {
	m := msiManifest()
	m.Preambles = []manifest.PreambleEntry{{PreambleType: manifest.PreambleUninstallPackage, Data: preambleCode}}
	m.Prereqs = []manifest.PrereqEntry{prereq(ndpKey, "Release", regversion.MustFromInteger(528040))}
	f := newFixture(t, m)
	f.installPreambleProduct()
	f.reg.SetInteger(registry.LocalMachine, ndpKey, "Release", 461808)

	// The preamble uninstall cannot even be launched.
	f.runner.Respond = func(cmd installer.Command) installer.Result {
		if len(cmd.Args) > 0 && cmd.Args[0] == "/x" {
			return installertest.LaunchFailed(errors.New("msiexec.exe: file does not exist"))
		}
		return installertest.Exited(0)
	}

	results, err := f.exec.InstallWithPrereqs(context.Background(), f.root)
	require.NoError(t, err)

	want := []installer.Command{
		{Path: msiexecPath, Args: []string{"/x", preambleCode, "/qn", "/norestart"}},
		{Path: filepath.Join(f.root, `prereqs\setup.exe`), Args: []string{"/q", "/norestart", "/log", `C:\Temp\prereq log.txt`}, Dir: f.root, RawArgs: m.Prereqs[0].CommandLine},
		{Path: msiexecPath, Args: installer.MsiInstallArgs(
			filepath.Join(f.root, "ContosoAgent.msi"),
			filepath.Join(f.logDir, "ContosoAgent-2.1.0-msi-install.log"))},
	}
	if diff := cmp.Diff(want, f.runner.Calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, results, 3)
	assert.Equal(t, report.OutcomeLaunchFailed, results[0].Outcome)
	assert.Equal(t, report.StepPreamble, results[0].Step)
	assert.Equal(t, report.OutcomeSucceeded, results[1].Outcome)
	assert.Equal(t, report.StepPrereq, results[1].Step)
	assert.Equal(t, report.OutcomeSucceeded, results[2].Outcome)
	assert.Equal(t, report.StepPackage, results[2].Step)
	assert.True(t, results.Failed())
}

func TestUninstallPreambles(t *testing.T) {
	m := msiManifest()
	m.Preambles = []manifest.PreambleEntry{
		{PreambleType: manifest.PreambleUninstallPackage, Data: "{00000000-1111-2222-3333-444444444444}"},
		{PreambleType: "RunScript", Data: "cleanup.ps1"},
		{PreambleType: "uninstallpackage", Data: preambleCode},
	}
	f := newFixture(t, m)
	// Only present in the 32-bit view.
	f.reg.AddKey(registry.LocalMachine, `SOFTWARE\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\`+preambleCode)

	results, err := f.exec.UninstallPreambles(context.Background(), f.root)
	require.NoError(t, err)

	require.Len(t, f.runner.Calls, 1)
	assert.Equal(t, []string{"/x", preambleCode, "/qn", "/norestart"}, f.runner.Calls[0].Args)

	require.Len(t, results, 3)
	assert.Equal(t, report.OutcomeNotNeeded, results[0].Outcome)
	assert.Equal(t, "not installed", results[0].Message)
	assert.Equal(t, "ignore", results[1].Action)
	assert.Equal(t, report.OutcomeNotNeeded, results[1].Outcome)
	assert.Equal(t, report.OutcomeSucceeded, results[2].Outcome)
	assert.False(t, results.Failed())
}

func TestUninstallPreamblesContinuesAfterFailure(t *testing.T) {
	second := "{11111111-2222-3333-4444-555555555555}"
	m := msiManifest()
	m.Preambles = []manifest.PreambleEntry{
		{PreambleType: manifest.PreambleUninstallPackage, Data: preambleCode},
		{PreambleType: manifest.PreambleUninstallPackage, Data: second},
	}
	f := newFixture(t, m)
	f.installPreambleProduct()
	f.reg.AddKey(registry.CurrentUser, uninstallRoot+`\`+second)
	f.runner.Respond = func(installer.Command) installer.Result { return installertest.Exited(1603) }

	results, err := f.exec.UninstallPreambles(context.Background(), f.root)
	require.NoError(t, err)
	assert.Len(t, f.runner.Calls, 2)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, report.OutcomeFailed, r.Outcome)
		require.NotNil(t, r.ExitCode)
		assert.Equal(t, 1603, *r.ExitCode)
	}
}

func TestInstallPrereqsDecisions(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(reg *registrytest.Reader)
		target      regversion.Version
		policy      string
		wantInstall bool
		wantOutcome report.Outcome
	}{
		{
			name:        "key absent",
			setup:       func(*registrytest.Reader) {},
			target:      regversion.MustParse("14.0"),
			wantInstall: true,
			wantOutcome: report.OutcomeSucceeded,
		},
		{
			name:        "value absent",
			setup:       func(reg *registrytest.Reader) { reg.SetString(registry.LocalMachine, vcRuntimeKey, "Other", "1") },
			target:      regversion.MustParse("14.0"),
			wantInstall: true,
			wantOutcome: report.OutcomeSucceeded,
		},
		{
			name:        "equal version",
			setup:       func(reg *registrytest.Reader) { reg.SetString(registry.LocalMachine, vcRuntimeKey, "Version", "14.38.33130.0") },
			target:      regversion.MustParse("14.38.33130"),
			wantOutcome: report.OutcomeNotNeeded,
		},
		{
			name:        "newer installed compares numerically",
			setup:       func(reg *registrytest.Reader) { reg.SetString(registry.LocalMachine, vcRuntimeKey, "Version", "10.0") },
			target:      regversion.MustParse("9.9"),
			wantOutcome: report.OutcomeNotNeeded,
		},
		{
			name:        "older installed",
			setup:       func(reg *registrytest.Reader) { reg.SetString(registry.LocalMachine, vcRuntimeKey, "Version", "14.29.30133.0") },
			target:      regversion.MustParse("14.38.33130.0"),
			wantInstall: true,
			wantOutcome: report.OutcomeSucceeded,
		},
		{
			name:        "integer value below integer target",
			setup:       func(reg *registrytest.Reader) { reg.SetInteger(registry.LocalMachine, vcRuntimeKey, "Version", 9) },
			target:      regversion.MustFromInteger(10),
			wantInstall: true,
			wantOutcome: report.OutcomeSucceeded,
		},
		{
			name:        "qword beyond signed range",
			setup:       func(reg *registrytest.Reader) { reg.SetInteger(registry.LocalMachine, vcRuntimeKey, "Version", 1<<63) },
			target:      regversion.MustFromInteger(10),
			wantInstall: true,
			wantOutcome: report.OutcomeSucceeded,
		},
		{
			name:        "unparseable installed value",
			setup:       func(reg *registrytest.Reader) { reg.SetString(registry.LocalMachine, vcRuntimeKey, "Version", "unknown") },
			target:      regversion.MustParse("1.0"),
			wantInstall: true,
			wantOutcome: report.OutcomeSucceeded,
		},
		{
			name:        "access failure skips by default",
			setup:       func(reg *registrytest.Reader) { reg.Fail(registry.LocalMachine, vcRuntimeKey, errAccessDenied) },
			target:      regversion.MustParse("1.0"),
			wantOutcome: report.OutcomeCheckFailed,
		},
		{
			name:        "access failure installs under install policy",
			setup:       func(reg *registrytest.Reader) { reg.Fail(registry.LocalMachine, vcRuntimeKey, errAccessDenied) },
			target:      regversion.MustParse("1.0"),
			policy:      config.PrereqPolicyInstall,
			wantInstall: true,
			wantOutcome: report.OutcomeSucceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := msiManifest()
			m.Prereqs = []manifest.PrereqEntry{prereq(`HKLM:\`+vcRuntimeKey, "Version", tt.target)}
			f := newFixture(t, m)
			if tt.policy != "" {
				f.cfg.PrereqAccessPolicy = tt.policy
			}
			tt.setup(f.reg)

			results, err := f.exec.InstallPrereqs(context.Background(), f.root)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, tt.wantOutcome, results[0].Outcome)
			if tt.wantInstall {
				assert.Len(t, f.runner.Calls, 1)
			} else {
				assert.Empty(t, f.runner.Calls)
			}
		})
	}
}

func TestInstallPrereqsEvaluatesEachEntry(t *testing.T) {
	m := msiManifest()
	bad := prereq(ndpKey, "Release", regversion.MustFromInteger(528040))
	bad.CommandLine = `/q "unterminated`
	m.Prereqs = []manifest.PrereqEntry{
		bad,
		prereq(vcRuntimeKey, "Version", regversion.MustParse("14.0")),
	}
	f := newFixture(t, m)

	results, err := f.exec.InstallPrereqs(context.Background(), f.root)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, report.OutcomeFailed, results[0].Outcome)
	assert.Equal(t, report.OutcomeSucceeded, results[1].Outcome)
	require.Len(t, f.runner.Calls, 1)
	assert.Equal(t, []string{"/q", "/norestart", "/log", `C:\Temp\prereq log.txt`}, f.runner.Calls[0].Args)
}

func TestInstallPrereqsKeepsEscapedQuotes(t *testing.T) {
	const commandLine = `/s /v"/qn INSTALLDIR=\"C:\Program Files\App\""`
	m := msiManifest()
	p := prereq(vcRuntimeKey, "Version", regversion.MustParse("14.0"))
	p.CommandLine = commandLine
	m.Prereqs = []manifest.PrereqEntry{p}
	f := newFixture(t, m)

	results, err := f.exec.InstallPrereqs(context.Background(), f.root)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, report.OutcomeSucceeded, results[0].Outcome)

	require.Len(t, f.runner.Calls, 1)
	got := f.runner.Calls[0]
	assert.Equal(t, []string{"/s", `/v/qn INSTALLDIR="C:\Program Files\App"`}, got.Args)
	assert.Equal(t, commandLine, got.RawArgs)
}

func TestInstallPackageLegacySetup(t *testing.T) {
	m := manifest.Manifest{
		PackageType:   manifest.LegacySetupPackage,
		InstallerFile: "setup.exe",
		ID:            "Tool",
		Version:       "3.2",
	}
	f := newFixture(t, m)

	results, err := f.exec.InstallPackage(context.Background(), f.root)
	require.NoError(t, err)
	require.Len(t, results, 1)

	want := []installer.Command{{
		Path: filepath.Join(f.root, "setup.exe"),
		Args: []string{"/quiet", "/norestart", "ACCEPT_EULA=1", "/log", filepath.Join(f.logDir, "Tool-3.2.log")},
		Dir:  f.root,
	}}
	if diff := cmp.Diff(want, f.runner.Calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestInstallPackageLegacySetupWithoutLogPath(t *testing.T) {
	f := newFixture(t, manifest.Manifest{
		PackageType:   manifest.LegacySetupPackage,
		InstallerFile: "setup.exe",
		ID:            "Tool",
		Version:       "3.2",
	})
	f.cfg.LogPath = ""

	_, err := f.exec.InstallPackage(context.Background(), f.root)
	require.NoError(t, err)

	require.Len(t, f.runner.Calls, 1)
	assert.Equal(t, []string{"/quiet", "/norestart", "ACCEPT_EULA=1"}, f.runner.Calls[0].Args)
}

func TestInstallPackageRebootRequiredIsSuccess(t *testing.T) {
	f := newFixture(t, msiManifest())
	f.runner.Respond = func(installer.Command) installer.Result { return installertest.Exited(3010) }

	results, err := f.exec.InstallPackage(context.Background(), f.root)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, report.OutcomeRebootRequired, results[0].Outcome)
	assert.False(t, results.Failed())
	assert.True(t, results.RebootRequired())
}

type fakeBlocking struct {
	asked   []string
	running []string
}

func (b *fakeBlocking) RunningApps(_ context.Context, apps []string) []string {
	b.asked = apps
	return b.running
}

func TestInstallPackageChecksBlockingApplications(t *testing.T) {
	m := msiManifest()
	m.BlockingApplications = []string{"ContosoAgent.exe", "outlook"}
	f := newFixture(t, m)
	blocking := &fakeBlocking{running: []string{"outlook"}}
	f.exec.Blocking = blocking

	_, err := f.exec.InstallPackage(context.Background(), f.root)
	require.NoError(t, err)
	assert.Equal(t, m.BlockingApplications, blocking.asked)
	// Running blockers are only a warning.
	assert.Len(t, f.runner.Calls, 1)
}

func TestUninstallAndRepairMsi(t *testing.T) {
	f := newFixture(t, msiManifest())
	msi := filepath.Join(f.root, "ContosoAgent.msi")

	_, err := f.exec.UninstallPackage(context.Background(), f.root)
	require.NoError(t, err)
	_, err = f.exec.RepairPackage(context.Background(), f.root)
	require.NoError(t, err)

	want := []installer.Command{
		{Path: msiexecPath, Args: installer.MsiUninstallArgs(msi, filepath.Join(f.logDir, "ContosoAgent-2.1.0-msi-uninstall.log"))},
		{Path: msiexecPath, Args: installer.MsiRepairArgs(msi, filepath.Join(f.logDir, "ContosoAgent-2.1.0-msi-repair.log"))},
	}
	if diff := cmp.Diff(want, f.runner.Calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsupportedPackageTypes(t *testing.T) {
	legacy := manifest.Manifest{PackageType: manifest.LegacySetupPackage, InstallerFile: "setup.exe", ID: "Tool", Version: "3.2"}
	unknown := manifest.Manifest{PackageType: "AppxPackage", InstallerFile: "app.msix", ID: "App", Version: "1.0",
		Preambles: []manifest.PreambleEntry{{PreambleType: manifest.PreambleUninstallPackage, Data: preambleCode}}}

	tests := []struct {
		name string
		m    manifest.Manifest
		op   func(e *Executor, ctx context.Context, root string) (report.Results, error)
		want string
	}{
		{"uninstall legacy", legacy, (*Executor).UninstallPackage, OpUninstall},
		{"repair legacy", legacy, (*Executor).RepairPackage, OpRepair},
		{"install unknown", unknown, (*Executor).InstallPackage, OpInstall},
		{"uninstall unknown", unknown, (*Executor).UninstallPackage, OpUninstall},
		{"install all unknown", unknown, (*Executor).InstallWithPrereqs, OpInstallAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.m)
			f.installPreambleProduct()

			results, err := tt.op(f.exec, context.Background(), f.root)
			var upe *UnsupportedPackageTypeError
			require.True(t, errors.As(err, &upe), "got %v", err)
			assert.Equal(t, tt.m.PackageType, upe.PackageType)
			assert.Equal(t, tt.want, upe.Operation)
			assert.Empty(t, results)
			assert.Empty(t, f.runner.Calls)
		})
	}
}

func TestFatalManifestErrors(t *testing.T) {
	e := New(&config.Configuration{MsiexecPath: msiexecPath}, registrytest.New(), &installertest.Runner{})

	_, err := e.InstallWithPrereqs(context.Background(), t.TempDir())
	var nf *manifest.NotFoundError
	assert.True(t, errors.As(err, &nf), "got %v", err)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(manifest.Path(root), []byte(`{"PackageType": "MsiPackage",`), 0o644))
	_, err = e.InstallPackage(context.Background(), root)
	var pe *manifest.ParseError
	assert.True(t, errors.As(err, &pe), "got %v", err)
}

func TestCheckOnlyStartsNoProcesses(t *testing.T) {
	m := msiManifest()
	m.Preambles = []manifest.PreambleEntry{{PreambleType: manifest.PreambleUninstallPackage, Data: preambleCode}}
	m.Prereqs = []manifest.PrereqEntry{prereq(ndpKey, "Release", regversion.MustFromInteger(528040))}
	f := newFixture(t, m)
	f.installPreambleProduct()
	f.cfg.CheckOnly = true

	results, err := f.exec.InstallWithPrereqs(context.Background(), f.root)
	require.NoError(t, err)
	assert.Empty(t, f.runner.Calls)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, report.OutcomeSkipped, r.Outcome)
		assert.NotEmpty(t, r.Command)
	}
}

func TestCancelledContextStopsBeforeNextEntry(t *testing.T) {
	m := msiManifest()
	m.Prereqs = []manifest.PrereqEntry{
		prereq(ndpKey, "Release", regversion.MustFromInteger(528040)),
		prereq(vcRuntimeKey, "Version", regversion.MustParse("14.0")),
	}
	f := newFixture(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	f.runner.Respond = func(installer.Command) installer.Result {
		cancel()
		return installertest.Exited(0)
	}

	results, err := f.exec.InstallWithPrereqs(ctx, f.root)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
	assert.Len(t, f.runner.Calls, 1)
}
