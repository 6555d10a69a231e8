// pkg/blocking/blocking.go - detecting applications that should not be running while a package installs

package blocking

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/windowsadmins/pkgdeploy/pkg/logging"
)

// Proc is the part of a running process that matching needs.
type Proc struct {
	Name string
	Exe  string
}

// Snapshot lists running processes. Exe is only required when withExe is set.
type Snapshot func(ctx context.Context, withExe bool) ([]Proc, error)

// Checker finds running blocking applications.
type Checker struct {
	snapshot Snapshot
}

// New returns a Checker over the live process table.
func New() *Checker {
	return &Checker{snapshot: liveSnapshot}
}

// NewWithSnapshot returns a Checker over a custom process source.
func NewWithSnapshot(s Snapshot) *Checker {
	return &Checker{snapshot: s}
}

func liveSnapshot(ctx context.Context, withExe bool) ([]Proc, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Proc, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		entry := Proc{Name: name}
		if withExe {
			// Protected processes refuse this; their name is still usable.
			entry.Exe, _ = p.ExeWithContext(ctx)
		}
		out = append(out, entry)
	}
	return out, nil
}

// RunningApps returns the entries of apps that match a running process, in
// the order given. An app matches:
//   - by full path when it looks like a path (C:\..., \\server\..., /...),
//   - by executable name when it ends in .exe,
//   - otherwise by name with or without the .exe suffix.
//
// Matching is case-insensitive. A failure to list processes is logged and
// reported as nothing running.
func (c *Checker) RunningApps(ctx context.Context, apps []string) []string {
	if len(apps) == 0 {
		return nil
	}

	withExe := false
	for _, app := range apps {
		if isPath(app) {
			withExe = true
			break
		}
	}

	procs, err := c.snapshot(ctx, withExe)
	if err != nil {
		logging.Warn("Failed to get process list", "error", err)
		return nil
	}

	var running []string
	for _, app := range apps {
		if proc, ok := match(app, procs); ok {
			logging.Debug("Blocking application is running", "app", app, "process", proc)
			running = append(running, app)
		}
	}
	return running
}

func match(app string, procs []Proc) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(app))
	if want == "" {
		return "", false
	}
	for _, p := range procs {
		name := strings.ToLower(p.Name)
		switch {
		case isPath(want):
			if p.Exe != "" && strings.EqualFold(filepath.Clean(p.Exe), filepath.Clean(app)) {
				return p.Exe, true
			}
		case strings.HasSuffix(want, ".exe"):
			if name == want {
				return p.Name, true
			}
		default:
			if name == want || name == want+".exe" {
				return p.Name, true
			}
		}
	}
	return "", false
}

func isPath(app string) bool {
	a := strings.TrimSpace(app)
	if strings.HasPrefix(a, "/") || strings.HasPrefix(a, `\\`) {
		return true
	}
	return len(a) >= 3 && a[1] == ':' && (a[2] == '\\' || a[2] == '/')
}
