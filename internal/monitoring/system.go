package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/common"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultCPUSample is how long CPU counters are sampled for cpu_percent.
const DefaultCPUSample = 100 * time.Millisecond

// MinDiskBytes hides small pseudo and boot partitions from the disk list.
const MinDiskBytes = 1 << 30

// SystemCollector gathers host resource usage through gopsutil.
type SystemCollector struct {
	procRoot  string
	cpuSample time.Duration

	// gopsutil entry points, replaced in tests.
	cpuPercent    func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	partitions    func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage         func(ctx context.Context, path string) (*disk.UsageStat, error)
	loadAvg       func(ctx context.Context) (*load.AvgStat, error)
}

// NewSystemCollector creates a collector. procRoot is normally /proc;
// inside a container point it at the host's proc mount (/host/proc).
func NewSystemCollector(procRoot string) *SystemCollector {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &SystemCollector{
		procRoot:      procRoot,
		cpuSample:     DefaultCPUSample,
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		partitions:    disk.PartitionsWithContext,
		usage:         disk.UsageWithContext,
		loadAvg:       load.AvgWithContext,
	}
}

// Collect samples CPU, memory, disk, and load average. CPU sampling
// blocks for the configured sample interval unless ctx ends first.
func (c *SystemCollector) Collect(ctx context.Context) (*SystemResources, error) {
	ctx = c.hostContext(ctx)

	pcts, err := c.cpuPercent(ctx, c.cpuSample, false)
	if err != nil {
		return nil, fmt.Errorf("cpu: %w", err)
	}
	if len(pcts) == 0 {
		return nil, errors.New("cpu: no aggregate sample")
	}

	vm, err := c.virtualMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	avail := min(vm.Available, vm.Total)
	memUsed := vm.Total - avail
	var memPct float64
	if vm.Total > 0 {
		memPct = round1(float64(memUsed) / float64(vm.Total) * 100)
	}

	disks, err := c.disks(ctx)
	if err != nil {
		return nil, fmt.Errorf("disk: %w", err)
	}

	avg, err := c.loadAvg(ctx)
	if err != nil {
		return nil, fmt.Errorf("load average: %w", err)
	}

	return &SystemResources{
		CPUPercent:    round1(pcts[0]),
		MemoryTotalGB: toGB(vm.Total),
		MemoryUsedGB:  toGB(memUsed),
		MemoryPercent: memPct,
		Disk:          disks,
		LoadAverage:   [3]float64{round2(avg.Load1), round2(avg.Load5), round2(avg.Load15)},
	}, nil
}

// hostContext points gopsutil at procRoot when it is not the default.
func (c *SystemCollector) hostContext(ctx context.Context) context.Context {
	if c.procRoot == "/proc" {
		return ctx
	}
	return context.WithValue(ctx, common.EnvKey, common.EnvMap{
		common.HostProcEnvKey: c.procRoot,
	})
}

// disks lists physical mounts larger than MinDiskBytes. Mounts that
// cannot be inspected are skipped.
func (c *SystemCollector) disks(ctx context.Context) ([]DiskUsage, error) {
	parts, err := c.partitions(ctx, false)
	if err != nil {
		return nil, err
	}

	out := []DiskUsage{}
	seen := make(map[string]bool)
	for _, p := range parts {
		if seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true

		u, err := c.usage(ctx, p.Mountpoint)
		if err != nil || u.Total <= MinDiskBytes {
			continue
		}
		out = append(out, DiskUsage{
			Path:        p.Mountpoint,
			TotalGB:     toGB(u.Total),
			UsedGB:      toGB(u.Used),
			FreeGB:      toGB(u.Free),
			PercentUsed: round1(u.UsedPercent),
		})
	}
	return out, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
