package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

var (
	listPartitions = func() ([]disk.PartitionStat, error) { return disk.Partitions(false) }
	sysBlockRoot   = "/sys/block"
)

// RemovableVolumes returns the mount points of currently mounted removable
// partitions. It takes a single snapshot; it does not watch for changes.
func RemovableVolumes() ([]string, error) {
	partitions, err := listPartitions()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var mounts []string
	for _, p := range partitions {
		if p.Mountpoint == "" || !isRemovable(p) {
			continue
		}
		if _, ok := seen[p.Mountpoint]; ok {
			continue
		}
		seen[p.Mountpoint] = struct{}{}
		mounts = append(mounts, p.Mountpoint)
	}
	sort.Strings(mounts)
	return mounts, nil
}

func isRemovable(p disk.PartitionStat) bool {
	for _, opt := range p.Opts {
		if strings.EqualFold(opt, "removable") {
			return true
		}
	}
	if runtime.GOOS != "linux" {
		return false
	}
	dev := blockDevice(p.Device)
	if dev == "" {
		return false
	}
	b, err := os.ReadFile(filepath.Join(sysBlockRoot, dev, "removable"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(b)) == "1"
}

// blockDevice maps a partition device path to its parent block device name,
// e.g. /dev/sdb1 -> sdb and /dev/nvme0n1p2 -> nvme0n1.
func blockDevice(device string) string {
	name := strings.TrimPrefix(device, "/dev/")
	if name == device || name == "" || strings.Contains(name, "/") {
		return ""
	}
	if strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk") {
		if idx := strings.LastIndex(name, "p"); idx > 0 && isDigits(name[idx+1:]) {
			return name[:idx]
		}
		return name
	}
	return strings.TrimRight(name, "0123456789")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
