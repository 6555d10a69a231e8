package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "PKGDEPLOY_INSTALLER_HELPER"

// TestHelperProcess is not a real test: it is the fake installer executed by
// helperCommand. The last argument is the exit code, or "hang".
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	arg := os.Args[len(os.Args)-1]
	if arg == "hang" {
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	code, err := strconv.Atoi(arg)
	if err != nil {
		os.Exit(100)
	}
	fmt.Fprint(os.Stdout, "helper ran")
	os.Exit(code)
}

func helperCommand(t *testing.T, arg string) Command {
	t.Helper()
	t.Setenv(helperEnv, "1")
	return Command{Path: os.Args[0], Args: []string{"-test.run=TestHelperProcess", "--", arg}}
}

func TestExecRunnerSuccess(t *testing.T) {
	r := &ExecRunner{}
	res := r.Run(context.Background(), helperCommand(t, "0"))

	require.NoError(t, res.Err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "helper ran", res.Output)
}

func TestExecRunnerNonZeroExitIsFailure(t *testing.T) {
	r := &ExecRunner{}
	res := r.Run(context.Background(), helperCommand(t, "3"))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "exited with code 3")
}

func TestExecRunnerLaunchFailure(t *testing.T) {
	r := &ExecRunner{}
	missing := filepath.Join(t.TempDir(), "does-not-exist.exe")
	res := r.Run(context.Background(), Command{Path: missing, Args: []string{"/quiet"}})

	assert.Equal(t, StatusLaunchFailed, res.Status)
	assert.Equal(t, -1, res.ExitCode)
	require.Error(t, res.Err)
}

func TestExecRunnerTimeout(t *testing.T) {
	r := &ExecRunner{Timeout: 200 * time.Millisecond}
	res := r.Run(context.Background(), helperCommand(t, "hang"))

	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded), "err = %v", res.Err)
}

func TestExecRunnerCheckOnly(t *testing.T) {
	r := &ExecRunner{CheckOnly: true}
	missing := filepath.Join(t.TempDir(), "never-started.exe")
	res := r.Run(context.Background(), Command{Path: missing})

	assert.Equal(t, StatusSkipped, res.Status)
	assert.NoError(t, res.Err)
}

func TestClassifyExitCode(t *testing.T) {
	tests := map[int]Status{
		0:    StatusSucceeded,
		3010: StatusRebootRequired,
		1641: StatusRebootRequired,
		1603: StatusFailed,
		1618: StatusFailed,
		-1:   StatusFailed,
	}
	for code, want := range tests {
		assert.Equal(t, want, ClassifyExitCode(code), "exit code %d", code)
	}
	assert.True(t, StatusRebootRequired.OK())
	assert.True(t, StatusSkipped.OK())
	assert.False(t, StatusLaunchFailed.OK())
}

func TestCommandString(t *testing.T) {
	c := Command{
		Path: `C:\Windows\System32\msiexec.exe`,
		Args: []string{"/i", `C:\Program Files\pkg\app.msi`, "/qn", ""},
	}
	assert.Equal(t, `C:\Windows\System32\msiexec.exe /i "C:\Program Files\pkg\app.msi" /qn ""`, c.String())
}

func TestCommandStringPrefersRawArgs(t *testing.T) {
	c := Command{
		Path:    `C:\pkg\prereqs\setup.exe`,
		Args:    []string{"/s", `/v/qn INSTALLDIR="C:\Program Files\App"`},
		RawArgs: `/s /v"/qn INSTALLDIR=\"C:\Program Files\App\""`,
	}
	assert.Equal(t, `C:\pkg\prereqs\setup.exe /s /v"/qn INSTALLDIR=\"C:\Program Files\App\""`, c.String())
}
