//go:build windows

package installer

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// splitArgs hands s to CommandLineToArgvW so the arguments match what the
// launched setup program will see. The placeholder program name keeps the
// first real argument out of the program-name parsing rules.
func splitArgs(s string, _ []string) ([]string, error) {
	argv, err := windows.DecomposeCommandLine("pkgdeploy " + s)
	if err != nil {
		return nil, fmt.Errorf("splitting command line %q: %w", s, err)
	}
	if len(argv) < 2 {
		return nil, nil
	}
	return argv[1:], nil
}
