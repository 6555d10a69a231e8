// pkg/installer/installer.go - launching installer executables and classifying their exit codes.

package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/windowsadmins/pkgdeploy/pkg/config"
	"github.com/windowsadmins/pkgdeploy/pkg/logging"
)

// Status classifies how an installer invocation ended.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRebootRequired Status = "reboot-required"
	StatusFailed         Status = "failed"
	StatusLaunchFailed   Status = "launch-failed"
	StatusSkipped        Status = "skipped"
)

// OK reports whether the status counts as success.
func (s Status) OK() bool {
	return s == StatusSucceeded || s == StatusRebootRequired || s == StatusSkipped
}

// Windows Installer exit codes that still mean success.
const (
	exitSuccess                = 0
	exitSuccessRebootInitiated = 1641 // ERROR_SUCCESS_REBOOT_INITIATED
	exitSuccessRebootRequired  = 3010 // ERROR_SUCCESS_REBOOT_REQUIRED
)

// ClassifyExitCode maps a process exit code onto a Status.
func ClassifyExitCode(code int) Status {
	switch code {
	case exitSuccess:
		return StatusSucceeded
	case exitSuccessRebootRequired, exitSuccessRebootInitiated:
		return StatusRebootRequired
	default:
		return StatusFailed
	}
}

// Command is an executable plus its argument list. Arguments are handed to the
// process as-is; nothing is ever interpreted by a shell.
type Command struct {
	Path string
	Args []string
	Dir  string
	// RawArgs, when set, is the argument string exactly as the manifest wrote
	// it. On Windows it replaces the re-quoted Args on the process command
	// line, so setup programs that parse their own command line (such as
	// InstallShield's /v"...") see the original quoting.
	RawArgs string
}

// String renders the command line for logs, quoting arguments with spaces.
func (c Command) String() string {
	path := c.Path
	if path == "" || strings.ContainsAny(path, " \t") {
		path = `"` + path + `"`
	}
	if c.RawArgs != "" {
		return path + " " + c.RawArgs
	}
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, path)
	for _, p := range c.Args {
		if p == "" || strings.ContainsAny(p, " \t") {
			p = `"` + p + `"`
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of one Runner.Run call.
type Result struct {
	Command  Command
	Status   Status
	ExitCode int
	Err      error
	Duration time.Duration
	Output   string
}

// Runner launches a command and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each process; zero waits indefinitely.
	Timeout time.Duration
	// CheckOnly logs the command instead of running it.
	CheckOnly bool
}

// NewExecRunner builds an ExecRunner from configuration.
func NewExecRunner(cfg *config.Configuration) *ExecRunner {
	return &ExecRunner{
		Timeout:   cfg.InstallerTimeout(),
		CheckOnly: cfg.CheckOnly,
	}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) Result {
	res := Result{Command: c, ExitCode: -1}

	if r.CheckOnly {
		logging.Info("CheckOnly mode: would run", "command", c.String())
		res.Status = StatusSkipped
		return res
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	configureProcess(cmd, c)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logging.Debug("Launching installer", "command", c.String())
	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.Status = StatusLaunchFailed
		res.Err = fmt.Errorf("launching %s: %w", c.Path, err)
		return res
	}

	waitErr := cmd.Wait()
	res.Duration = time.Since(start)
	res.Output = out.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("%s did not finish: %w", filepath.Base(c.Path), ctxErr)
		return res
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("waiting for %s: %w", filepath.Base(c.Path), waitErr)
		return res
	}

	res.Status = ClassifyExitCode(res.ExitCode)
	if !res.Status.OK() {
		res.Err = fmt.Errorf("%s exited with code %d", filepath.Base(c.Path), res.ExitCode)
	}
	if res.Output != "" {
		logging.Debug("Installer output", "command", filepath.Base(c.Path), "output", res.Output)
	}
	return res
}
