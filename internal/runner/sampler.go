package runner

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

type processStats struct {
	Sampled    bool
	InitialRSS int64
	FinalRSS   int64
	PeakRSS    int64
	Samples    int
	CPUPercent float64
	CPUSampled bool
}

// sampler polls RSS and CPU of the sandboxed process while it runs. Polling
// starts at minSampleInterval and doubles up to the configured interval, so short
// runs still get more than one reading. The final values are the last ones
// observed before exit.
const minSampleInterval = 10 * time.Millisecond

type sampler struct {
	proc      *process.Process
	interval  time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
	stats     processStats
	cpuPrimed bool
}

func startSampler(pid int, interval time.Duration) *sampler {
	s := &sampler{interval: interval, done: make(chan struct{})}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return s
	}
	s.proc = proc
	s.sample()

	if interval <= 0 {
		return s
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		delay := minSampleInterval
		if delay > interval {
			delay = interval
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-timer.C:
				s.sample()
				if delay < interval {
					delay *= 2
					if delay > interval {
						delay = interval
					}
				}
				timer.Reset(delay)
			}
		}
	}()
	return s
}

func (s *sampler) sample() {
	if mem, err := s.proc.MemoryInfo(); err == nil {
		rss := int64(mem.RSS)
		if !s.stats.Sampled {
			s.stats.InitialRSS = rss
			s.stats.Sampled = true
		}
		s.stats.FinalRSS = rss
		s.stats.Samples++
		if rss > s.stats.PeakRSS {
			s.stats.PeakRSS = rss
		}
	}

	// The first Percent(0) call only records a baseline.
	cpu, err := s.proc.Percent(0)
	if err != nil {
		return
	}
	if s.cpuPrimed {
		s.stats.CPUPercent = cpu
		s.stats.CPUSampled = true
	}
	s.cpuPrimed = true
}

func (s *sampler) stop() processStats {
	close(s.done)
	s.wg.Wait()
	return s.stats
}
