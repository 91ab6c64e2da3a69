package systeminfo

import (
	"os"
	"runtime"

	"hashsweep/logger"

	"github.com/shirou/gopsutil/v4/host"
)

// HostInfo identifies the machine a scan ran on.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
}

var hostInfo = host.Info

// Collect gathers host details. Missing details are logged and left empty;
// hostname, OS and architecture are always filled from the runtime.
func Collect() HostInfo {
	info := HostInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}

	stat, err := hostInfo()
	if err != nil {
		logger.Debugf("Failed to gather host information: %v", err)
		return info
	}
	if stat.Hostname != "" {
		info.Hostname = stat.Hostname
	}
	info.Platform = stat.Platform
	info.PlatformVersion = stat.PlatformVersion
	info.KernelVersion = stat.KernelVersion
	if stat.KernelArch != "" {
		info.Arch = stat.KernelArch
	}
	return info
}
