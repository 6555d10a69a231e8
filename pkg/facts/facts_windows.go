//go:build windows

package facts

import (
	"fmt"

	"github.com/yusufpapurcu/wmi"

	"github.com/windowsadmins/pkgdeploy/pkg/logging"
)

type Win32_ComputerSystem struct {
	Domain       string `wmi:"Domain"`
	PartOfDomain bool   `wmi:"PartOfDomain"`
	Model        string `wmi:"Model"`
	Manufacturer string `wmi:"Manufacturer"`
}

type Win32_OperatingSystem struct {
	Caption     string `wmi:"Caption"`
	BuildNumber string `wmi:"BuildNumber"`
}

func gatherPlatformFacts(f *SystemFacts) {
	var systems []Win32_ComputerSystem
	if err := wmi.Query("SELECT Domain, PartOfDomain, Model, Manufacturer FROM Win32_ComputerSystem", &systems); err != nil {
		logging.Debug("Failed to query computer system information", "error", err)
	} else if len(systems) > 0 {
		s := systems[0]
		switch {
		case s.Manufacturer != "" && s.Model != "":
			f.MachineModel = fmt.Sprintf("%s %s", s.Manufacturer, s.Model)
		case s.Model != "":
			f.MachineModel = s.Model
		default:
			f.MachineModel = s.Manufacturer
		}
		if s.PartOfDomain {
			f.JoinedType = "domain"
			f.Domain = s.Domain
		} else {
			f.JoinedType = "workgroup"
		}
	}

	var oses []Win32_OperatingSystem
	if err := wmi.Query("SELECT Caption, BuildNumber FROM Win32_OperatingSystem", &oses); err != nil {
		logging.Debug("Failed to query operating system information", "error", err)
	} else if len(oses) > 0 && oses[0].Caption != "" {
		f.OS = oses[0].Caption
		if oses[0].BuildNumber != "" {
			f.KernelVersion = oses[0].BuildNumber
		}
	}
}
