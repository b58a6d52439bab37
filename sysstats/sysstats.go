// Package sysstats samples host CPU, memory and disk usage for the UI's
// resource panel.
package sysstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zhubert/agentdesk/logger"
)

// EventType is the event name samples are emitted under.
const EventType = "statistics"

// DefaultCPUWindow is how long a CPU measurement observes the processor.
const DefaultCPUWindow = 200 * time.Millisecond

// Sample is one reading. Every field is a fraction in [0, 1].
type Sample struct {
	CPUUsage    float64 `json:"cpuUsage"`
	RAMUsage    float64 `json:"ramUsage"`
	StorageData float64 `json:"storageData"`
}

// Static describes the machine. Sizes are whole gigabytes.
type Static struct {
	TotalStorage  int    `json:"totalStorage"`
	CPUModel      string `json:"cpuModel"`
	TotalMemoryGB int    `json:"totalMemoryGB"`
}

// Sampler takes readings.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
	Static(ctx context.Context) (Static, error)
}

// HostSampler reads the local machine through gopsutil.
type HostSampler struct {
	Root      string        // filesystem measured for storage; empty means the system root
	CPUWindow time.Duration // zero means DefaultCPUWindow
}

func (h HostSampler) root() string {
	if h.Root != "" {
		return h.Root
	}
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

// Sample measures current usage.
func (h HostSampler) Sample(ctx context.Context) (Sample, error) {
	window := h.CPUWindow
	if window <= 0 {
		window = DefaultCPUWindow
	}

	var s Sample
	var errs []error

	if percents, err := cpu.PercentWithContext(ctx, window, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(percents) > 0 {
		s.CPUUsage = clamp01(percents[0] / 100)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		s.RAMUsage = clamp01(vm.UsedPercent / 100)
	}

	if usage, err := disk.UsageWithContext(ctx, h.root()); err != nil {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	} else if usage.Total > 0 {
		s.StorageData = clamp01(1 - float64(usage.Free)/float64(usage.Total))
	}

	return s, errors.Join(errs...)
}

const gigabyte = 1_000_000_000

// Static describes total storage, CPU model and installed memory.
func (h HostSampler) Static(ctx context.Context) (Static, error) {
	var st Static
	var errs []error

	if usage, err := disk.UsageWithContext(ctx, h.root()); err != nil {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	} else {
		st.TotalStorage = int(usage.Total / gigabyte)
	}

	if infos, err := cpu.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(infos) > 0 {
		st.CPUModel = infos[0].ModelName
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		st.TotalMemoryGB = int(vm.Total / (1 << 30))
	}

	return st, errors.Join(errs...)
}

// Emitter receives samples.
type Emitter interface {
	Emit(eventType string, payload any)
}

// Poller samples on a fixed interval and emits each reading.
type Poller struct {
	sampler  Sampler
	interval time.Duration
	emitter  Emitter
	log      *slog.Logger
}

// NewPoller creates a poller.
func NewPoller(sampler Sampler, interval time.Duration, emitter Emitter) *Poller {
	return &Poller{
		sampler:  sampler,
		interval: interval,
		emitter:  emitter,
		log:      logger.WithComponent("sysstats"),
	}
}

// Run polls until ctx is cancelled. A failed reading is logged and skipped;
// polling continues.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Debug("polling started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("polling stopped")
			return
		case <-ticker.C:
			sample, err := p.sampler.Sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("resource poll failed", "error", err)
				continue
			}
			p.emitter.Emit(EventType, sample)
		}
	}
}
