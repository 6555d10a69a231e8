//go:build windows

package installer

import (
	"os/exec"
	"syscall"
)

// CREATE_NO_WINDOW from the Win32 API
const createNoWindow = 0x08000000

func configureProcess(cmd *exec.Cmd, c Command) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
	if c.RawArgs != "" {
		cmd.SysProcAttr.CmdLine = rawCommandLine(c)
	}
}

func rawCommandLine(c Command) string {
	return syscall.EscapeArg(c.Path) + " " + c.RawArgs
}
