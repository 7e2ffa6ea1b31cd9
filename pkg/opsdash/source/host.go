package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vpbank/opsdash/models"
)

const mib = 1024 * 1024

func sampleWindow(spec models.SourceSpec) time.Duration {
	if spec.Sample > 0 {
		return spec.Sample
	}
	return time.Second
}

func cpuPercent(ctx context.Context, sample time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, sample, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("source: cpu: no samples")
	}
	return pct[0], nil
}

func buildCPUPercent(spec models.SourceSpec, _ Deps) (Source, error) {
	sample := sampleWindow(spec)
	return Func(func(ctx context.Context) Reading {
		v, err := cpuPercent(ctx, sample)
		return Reading{Value: v, Err: err}
	}), nil
}

// buildCPUHistory keeps the last Window CPU samples and reports their mean in
// Extra["avg"].
func buildCPUHistory(spec models.SourceSpec, _ Deps) (Source, error) {
	sample := sampleWindow(spec)
	size := spec.Window
	if size <= 0 {
		size = 10
	}
	var window []float64
	return Func(func(ctx context.Context) Reading {
		v, err := cpuPercent(ctx, sample)
		if err != nil {
			return Reading{Err: err, History: append([]float64(nil), window...)}
		}
		window = append(window, v)
		if len(window) > size {
			window = window[len(window)-size:]
		}
		var sum float64
		for _, x := range window {
			sum += x
		}
		return Reading{
			Value:   v,
			Extra:   map[string]float64{"avg": sum / float64(len(window))},
			History: append([]float64(nil), window...),
		}
	}), nil
}

func buildMemory(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		return Reading{
			Value: float64(vm.Used) / mib,
			Extra: map[string]float64{"percent": vm.UsedPercent},
		}
	}), nil
}

func buildSwap(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		sw, err := mem.SwapMemoryWithContext(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		return Reading{
			Value: float64(sw.Used) / mib,
			Extra: map[string]float64{"percent": sw.UsedPercent},
		}
	}), nil
}

func buildDiskUsage(spec models.SourceSpec, _ Deps) (Source, error) {
	path := spec.Path
	if path == "" {
		path = "/"
	}
	return Func(func(ctx context.Context) Reading {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return Reading{Err: err}
		}
		return Reading{
			Value: u.UsedPercent,
			Extra: map[string]float64{
				"used_mb":        float64(u.Used) / mib,
				"inodes_percent": u.InodesUsedPercent,
			},
		}
	}), nil
}

// buildDiskIO reports cumulative megabytes written, with reads and the write
// count as extras.
func buildDiskIO(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		counters, err := disk.IOCountersWithContext(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		var read, written, writes uint64
		for _, c := range counters {
			read += c.ReadBytes
			written += c.WriteBytes
			writes += c.WriteCount
		}
		return Reading{
			Value: float64(written) / mib,
			Extra: map[string]float64{
				"read_mb":     float64(read) / mib,
				"write_count": float64(writes),
			},
		}
	}), nil
}

func totalNetIO(ctx context.Context) (net.IOCountersStat, error) {
	all, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return net.IOCountersStat{}, err
	}
	if len(all) == 0 {
		return net.IOCountersStat{}, fmt.Errorf("source: net: no counters")
	}
	return all[0], nil
}

func buildNetIO(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		io, err := totalNetIO(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		return Reading{
			Value: float64(io.BytesSent) / mib,
			Extra: map[string]float64{"recv_mb": float64(io.BytesRecv) / mib},
		}
	}), nil
}

// buildNetRate reports combined send and receive throughput in megabits per
// second since the previous cycle. The first cycle has no baseline and reads 0.
func buildNetRate(_ models.SourceSpec, deps Deps) (Source, error) {
	state := NewCounterState()
	now := deps.Now
	return Func(func(ctx context.Context) Reading {
		io, err := totalNetIO(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		d := state.Delta("bytes", io.BytesSent+io.BytesRecv, now(), Wrap64)
		return Reading{Value: d.Rate() * 8 / 1e6}
	}), nil
}

func buildLoadAvg(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		return Reading{
			Value: avg.Load1,
			Extra: map[string]float64{"load5": avg.Load5, "load15": avg.Load15},
		}
	}), nil
}

func buildHostUptime(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		secs, err := host.UptimeWithContext(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		return Reading{Value: float64(secs) / 3600}
	}), nil
}

// buildTemperature reports the hottest sensor whose key contains Match. With
// no matching sensor it falls back to a random value in Fallback, if set.
func buildTemperature(spec models.SourceSpec, _ Deps) (Source, error) {
	match := strings.ToLower(spec.Match)
	fallback := spec.Fallback
	return Func(func(ctx context.Context) Reading {
		// Partial results arrive with a warnings error; use what was read.
		temps, err := host.SensorsTemperaturesWithContext(ctx)
		found := false
		var hottest float64
		for _, t := range temps {
			if match != "" && !strings.Contains(strings.ToLower(t.SensorKey), match) {
				continue
			}
			if !found || t.Temperature > hottest {
				hottest = t.Temperature
			}
			found = true
		}
		if found {
			return Reading{Value: hottest}
		}
		r := Reading{Err: fmt.Errorf("source: no temperature sensor matching %q", match)}
		if err != nil {
			r.Err = err
		}
		if fallback != nil {
			r.Value = uniform(*fallback)
		}
		return r
	}), nil
}

func buildProcessCount(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		pids, err := process.PidsWithContext(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		return Reading{Value: float64(len(pids))}
	}), nil
}

// buildProcessMatch counts processes whose name contains Match,
// case-insensitively.
func buildProcessMatch(spec models.SourceSpec, _ Deps) (Source, error) {
	if spec.Match == "" {
		return nil, fmt.Errorf("match is required")
	}
	match := strings.ToLower(spec.Match)
	return Func(func(ctx context.Context) Reading {
		procs, err := process.ProcessesWithContext(ctx)
		if err != nil {
			return Reading{Err: err}
		}
		n := 0
		for _, p := range procs {
			name, err := p.NameWithContext(ctx)
			if err != nil {
				// Exited between listing and inspection.
				continue
			}
			if strings.Contains(strings.ToLower(name), match) {
				n++
			}
		}
		return Reading{Value: float64(n)}
	}), nil
}

func buildConnections(models.SourceSpec, Deps) (Source, error) {
	return Func(func(ctx context.Context) Reading {
		conns, err := net.ConnectionsWithContext(ctx, "inet")
		if err != nil {
			return Reading{Err: err}
		}
		n := 0
		for _, c := range conns {
			if c.Status == "ESTABLISHED" {
				n++
			}
		}
		return Reading{Value: float64(n)}
	}), nil
}
