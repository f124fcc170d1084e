package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskrunner/config"
	"taskrunner/pkg/cache"
	"taskrunner/pkg/common"
	"taskrunner/pkg/logger"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceMonitor samples a live job's process on demand.
type ResourceMonitor interface {
	// Sample returns nil when the process cannot be read.
	Sample(ctx context.Context, handle string, pid int) map[string]interface{}
}

type resourceMonitor struct {
	cfg   *config.Monitor
	log   *logger.Logger
	cache cache.Cache
	mu    sync.Mutex
}

// NewResourceMonitor keeps process handles in c between polls so that
// cpu_percent measures the interval since the previous poll.
func NewResourceMonitor(cfg *config.Monitor, log *logger.Logger, c cache.Cache) ResourceMonitor {
	return &resourceMonitor{cfg: cfg, log: log, cache: c}
}

func (m *resourceMonitor) Sample(ctx context.Context, handle string, pid int) map[string]interface{} {
	if pid <= 0 {
		return nil
	}
	key := fmt.Sprintf(common.KEY_PROCESS_HANDLE, handle, pid)

	m.mu.Lock()
	defer m.mu.Unlock()

	proc, ok := cache.GetFromCache[*process.Process](m.cache, key)
	if !ok {
		var err error
		proc, err = process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			m.log.DebugContext(ctx, "Process not available for sampling", logger.IntField("pid", pid), logger.ErrorField(err))
			return nil
		}
		// Primes the cpu baseline; the first reading is always zero.
		_, _ = proc.PercentWithContext(ctx, 0)
	}

	cpu, err := proc.PercentWithContext(ctx, 0)
	if err != nil {
		m.forget(ctx, key, pid, err)
		return nil
	}
	memPercent, err := proc.MemoryPercentWithContext(ctx)
	if err != nil {
		m.forget(ctx, key, pid, err)
		return nil
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		m.forget(ctx, key, pid, err)
		return nil
	}

	m.cache.Set(key, proc, m.ttl())
	return map[string]interface{}{
		"cpu_percent":    cpu,
		"memory_percent": memPercent,
		"memory_info": map[string]interface{}{
			"rss":    mem.RSS,
			"vms":    mem.VMS,
			"hwm":    mem.HWM,
			"data":   mem.Data,
			"stack":  mem.Stack,
			"locked": mem.Locked,
			"swap":   mem.Swap,
		},
		"sampled_at": time.Now().UTC(),
	}
}

func (m *resourceMonitor) forget(ctx context.Context, key string, pid int, err error) {
	m.cache.Delete(key)
	m.log.DebugContext(ctx, "Resource sampling failed", logger.IntField("pid", pid), logger.ErrorField(err))
}

func (m *resourceMonitor) ttl() time.Duration {
	if m.cfg.CacheTTL <= 0 {
		return 10 * time.Minute
	}
	return m.cfg.CacheTTL
}
