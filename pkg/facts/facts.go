// pkg/facts/facts.go - host facts recorded at the start of every session
//
// The facts are informational: they land in the session log so a failed
// deployment can be read without access to the machine.

package facts

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/windowsadmins/pkgdeploy/pkg/logging"
)

// SystemFacts describes the machine a run happens on.
type SystemFacts struct {
	Hostname      string `json:"hostname" yaml:"hostname"`
	OS            string `json:"os" yaml:"os"`
	OSVersion     string `json:"os_version" yaml:"os_version"`
	KernelVersion string `json:"kernel_version,omitempty" yaml:"kernel_version,omitempty"`
	Architecture  string `json:"architecture" yaml:"architecture"`
	Domain        string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Username      string `json:"username,omitempty" yaml:"username,omitempty"`
	MachineModel  string `json:"machine_model,omitempty" yaml:"machine_model,omitempty"`
	JoinedType    string `json:"joined_type,omitempty" yaml:"joined_type,omitempty"` // "domain" or "workgroup"
	BootTime      uint64 `json:"boot_time,omitempty" yaml:"boot_time,omitempty"`
}

// hostInfo is replaced in tests.
var hostInfo = host.InfoWithContext

// Gather collects what it can; missing facts stay empty.
func Gather(ctx context.Context) SystemFacts {
	f := SystemFacts{
		Architecture: runtime.GOARCH,
		Domain:       os.Getenv("USERDOMAIN"),
		Username:     os.Getenv("USERNAME"),
	}
	if hostname, err := os.Hostname(); err == nil {
		f.Hostname = hostname
	}

	if info, err := hostInfo(ctx); err != nil {
		logging.Debug("Failed to read host information", "error", err)
	} else {
		f.OS = info.Platform
		f.OSVersion = info.PlatformVersion
		f.KernelVersion = info.KernelVersion
		f.BootTime = info.BootTime
		if info.KernelArch != "" {
			f.Architecture = info.KernelArch
		}
		if f.Hostname == "" {
			f.Hostname = info.Hostname
		}
	}

	gatherPlatformFacts(&f)
	return f
}

// KeyValues flattens the facts into logging key/value pairs, skipping empty ones.
func (f SystemFacts) KeyValues() []interface{} {
	pairs := []struct {
		k string
		v string
	}{
		{"hostname", f.Hostname},
		{"os", f.OS},
		{"os_version", f.OSVersion},
		{"kernel", f.KernelVersion},
		{"arch", f.Architecture},
		{"domain", f.Domain},
		{"user", f.Username},
		{"model", f.MachineModel},
		{"joined", f.JoinedType},
	}
	kv := make([]interface{}, 0, len(pairs)*2)
	for _, p := range pairs {
		if p.v != "" {
			kv = append(kv, p.k, p.v)
		}
	}
	return kv
}

// Log writes the facts to the session log.
func Log(ctx context.Context) SystemFacts {
	f := Gather(ctx)
	logging.Info("Host facts", f.KeyValues()...)
	return f
}
