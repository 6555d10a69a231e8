// Package installertest provides a recording installer.Runner for tests.
package installertest

import (
	"context"

	"github.com/windowsadmins/pkgdeploy/pkg/installer"
)

// Runner records every command and answers with Respond, or with
// StatusSucceeded when Respond is nil. No process is ever started.
type Runner struct {
	Calls   []installer.Command
	Respond func(cmd installer.Command) installer.Result
}

// Run implements installer.Runner.
func (r *Runner) Run(_ context.Context, cmd installer.Command) installer.Result {
	r.Calls = append(r.Calls, cmd)
	if r.Respond == nil {
		return installer.Result{Command: cmd, Status: installer.StatusSucceeded}
	}
	res := r.Respond(cmd)
	res.Command = cmd
	return res
}

// LaunchFailed is a canned result for an executable that could not be started.
func LaunchFailed(err error) installer.Result {
	return installer.Result{Status: installer.StatusLaunchFailed, ExitCode: -1, Err: err}
}

// Exited is a canned result for a process that ran and exited with code.
func Exited(code int) installer.Result {
	return installer.Result{Status: installer.ClassifyExitCode(code), ExitCode: code}
}
