//go:build !windows

package installer

import "os/exec"

// Only Windows has a raw command line; elsewhere Args are used as they are.
func configureProcess(*exec.Cmd, Command) {}
