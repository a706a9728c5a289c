package node

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"hostagent/internal/network"
	"hostagent/internal/services"
)

// DefaultTree returns the agent's resource tree.
func DefaultTree(version string, provider services.Provider) *Tree {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return NewTree(NewComposite("root",
		NewServicesNode(provider),
		NewLazy("cpu", collectCPU),
		NewComposite("memory",
			NewLazy("virtual", collectVirtualMemory),
			NewLazy("swap", collectSwap),
		),
		NewLazy("disk", collectDisk),
		NewLazy("interface", collectInterfaces),
		NewDeferred("processes", collectProcesses),
		NewComposite("system",
			NewStatic("agent_version", version),
			NewStatic("hostname", hostname),
			NewStatic("platform", runtime.GOOS+"/"+runtime.GOARCH),
			NewLazy("uptime", collectUptime),
			NewLazy("addresses", collectAddresses),
		),
	))
}

// CPUData holds overall CPU usage.
type CPUData struct {
	Percent []float64 `json:"percent"`
	Count   int       `json:"count"`
	User    float64   `json:"user"`
	System  float64   `json:"system"`
	Idle    float64   `json:"idle"`
	IOWait  float64   `json:"iowait,omitempty"`
}

func collectCPU(ctx context.Context, q Query) (any, error) {
	// Blocks for the sampling interval to measure usage.
	percent, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, true)
	if err != nil {
		return nil, err
	}

	data := CPUData{Percent: percent, Count: runtime.NumCPU()}

	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(times) > 0 {
		t := times[0]
		total := t.User + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal + t.Guest
		if total > 0 {
			data.User = (t.User / total) * 100
			data.System = (t.System / total) * 100
			data.Idle = (t.Idle / total) * 100
			data.IOWait = (t.Iowait / total) * 100
		}
	}
	return data, nil
}

// MemoryData holds one memory pool.
type MemoryData struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes,omitempty"`
	FreeBytes      uint64  `json:"free_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

func collectVirtualMemory(ctx context.Context, q Query) (any, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return MemoryData{
		TotalBytes:     vm.Total,
		UsedBytes:      vm.Used,
		AvailableBytes: vm.Available,
		FreeBytes:      vm.Free,
		UsagePercent:   vm.UsedPercent,
	}, nil
}

func collectSwap(ctx context.Context, q Query) (any, error) {
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		// Swap may not be available on all systems
		return MemoryData{}, nil
	}
	return MemoryData{
		TotalBytes:   swap.Total,
		UsedBytes:    swap.Used,
		FreeBytes:    swap.Free,
		UsagePercent: swap.UsedPercent,
	}, nil
}

// DiskPartition holds usage of one mounted filesystem.
type DiskPartition struct {
	Device       string  `json:"device"`
	FSType       string  `json:"fs_type"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

func collectDisk(ctx context.Context, q Query) (any, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]DiskPartition)
	for _, p := range partitions {
		if isPseudoFS(p.Fstype) {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		out[p.Mountpoint] = DiskPartition{
			Device:       p.Device,
			FSType:       p.Fstype,
			TotalBytes:   usage.Total,
			UsedBytes:    usage.Used,
			FreeBytes:    usage.Free,
			UsagePercent: usage.UsedPercent,
		}
	}
	return out, nil
}

var pseudoFS = map[string]struct{}{
	"sysfs": {}, "proc": {}, "devtmpfs": {}, "devpts": {}, "tmpfs": {}, "securityfs": {},
	"cgroup": {}, "cgroup2": {}, "pstore": {}, "debugfs": {}, "hugetlbfs": {}, "mqueue": {},
	"fusectl": {}, "configfs": {}, "autofs": {}, "binfmt_misc": {}, "fuse.gvfsd-fuse": {},
	"overlay": {}, "squashfs": {},
	"cdfs": {}, "udf": {}, // CD-ROM / DVD
}

func isPseudoFS(fstype string) bool {
	_, ok := pseudoFS[strings.ToLower(fstype)]
	return ok
}

// InterfaceData holds counters of one network interface.
type InterfaceData struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	ErrorsIn    uint64 `json:"errors_in"`
	ErrorsOut   uint64 `json:"errors_out"`
	DropsIn     uint64 `json:"drops_in"`
	DropsOut    uint64 `json:"drops_out"`
}

func collectInterfaces(ctx context.Context, q Query) (any, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	out := make(map[string]InterfaceData, len(counters))
	for _, c := range counters {
		out[c.Name] = InterfaceData{
			BytesSent:   c.BytesSent,
			BytesRecv:   c.BytesRecv,
			PacketsSent: c.PacketsSent,
			PacketsRecv: c.PacketsRecv,
			ErrorsIn:    c.Errin,
			ErrorsOut:   c.Errout,
			DropsIn:     c.Dropin,
			DropsOut:    c.Dropout,
		}
	}
	return out, nil
}

func collectUptime(ctx context.Context, q Query) (any, error) {
	return host.UptimeWithContext(ctx)
}

func collectAddresses(ctx context.Context, q Query) (any, error) {
	return network.DetectAddresses("")
}
