package util

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// IsWindows returns true if running on Windows.
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
	Uptime       uint64   `json:"uptime_secs"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.Uptime = hostInfo.Uptime
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ProcessStats is the resource usage of this process.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSMB      uint64  `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	Threads    int32   `json:"threads"`
}

// GetProcessStats reports memory and CPU usage of the running service.
func GetProcessStats(ctx context.Context) (*ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect own process: %w", err)
	}

	stats := &ProcessStats{PID: p.Pid, Goroutines: runtime.NumGoroutine()}
	if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil {
		stats.RSSMB = memInfo.RSS / (1024 * 1024)
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = pct
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = n
	}
	return stats, nil
}

// ProcessAlive reports whether a process with the given PID exists.
func ProcessAlive(ctx context.Context, pid int32) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && ok
}

// FindProcess returns the PID of the first process whose executable name
// matches one of names, case-insensitively. Extensions are ignored.
func FindProcess(ctx context.Context, names ...string) (int32, bool) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false
	}
	for _, p := range procs {
		exe, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		exe = strings.TrimSuffix(strings.ToLower(exe), ".exe")
		for _, n := range names {
			if exe == strings.ToLower(n) {
				return p.Pid, true
			}
		}
	}
	return 0, false
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
