// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package monitor amostra disco, memória e load do host do staging root.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nishisan-dev/n-upload/internal/observability"
)

// DefaultInterval é o intervalo entre coletas.
const DefaultInterval = 15 * time.Second

var (
	diskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nupload",
		Subsystem: "host",
		Name:      "staging_disk_free_bytes",
		Help:      "Free bytes on the filesystem holding the staging root",
	})
	memoryUsedPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nupload",
		Subsystem: "host",
		Name:      "memory_used_percent",
		Help:      "Host memory usage",
	})
	load1 = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nupload",
		Subsystem: "host",
		Name:      "load1",
		Help:      "One-minute load average",
	})
)

// FreeSpace é o mínimo de espaço livre exigido no disco do staging.
// Bytes e Percent podem ser combinados; zero desativa cada critério.
type FreeSpace struct {
	Bytes   uint64
	Percent float64
}

// Enabled indica se algum critério foi configurado.
func (f FreeSpace) Enabled() bool {
	return f.Bytes > 0 || f.Percent > 0
}

// below informa se total/free violam o limite.
func (f FreeSpace) below(total, free uint64) bool {
	if f.Bytes > 0 && free < f.Bytes {
		return true
	}
	if f.Percent > 0 && total > 0 && float64(free)*100/float64(total) < f.Percent {
		return true
	}
	return false
}

func (f FreeSpace) String() string {
	switch {
	case f.Bytes > 0 && f.Percent > 0:
		return fmt.Sprintf("%s and %.1f%%", humanize.IBytes(f.Bytes), f.Percent)
	case f.Bytes > 0:
		return humanize.IBytes(f.Bytes)
	case f.Percent > 0:
		return fmt.Sprintf("%.1f%%", f.Percent)
	default:
		return "none"
	}
}

// SystemStats guarda a última coleta.
type SystemStats struct {
	DiskTotal        uint64
	DiskFree         uint64
	DiskUsagePercent float64
	MemoryPercent    float64
	LoadAverage      float64
	CollectedAt      time.Time
}

// usageFunc permite substituir disk.Usage nos testes.
type usageFunc func(path string) (*disk.UsageStat, error)

// SystemMonitor coleta métricas do host periodicamente.
// Implementa staging.SpaceChecker e observability.DiskReporter.
type SystemMonitor struct {
	path      string
	threshold FreeSpace
	interval  time.Duration
	usage     usageFunc
	logger    *slog.Logger

	close chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats SystemStats
}

// NewSystemMonitor cria um monitor para o filesystem que contém path.
func NewSystemMonitor(path string, threshold FreeSpace, logger *slog.Logger) *SystemMonitor {
	return &SystemMonitor{
		path:      path,
		threshold: threshold,
		interval:  DefaultInterval,
		usage:     disk.Usage,
		logger:    logger.With("component", "system_monitor"),
		close:     make(chan struct{}),
	}
}

// Start faz uma coleta imediata e inicia a coleta periódica.
func (sm *SystemMonitor) Start() {
	sm.collect()
	sm.wg.Add(1)
	go sm.run()
}

// Stop encerra a coleta periódica. Pode ser chamado mais de uma vez.
func (sm *SystemMonitor) Stop() {
	sm.once.Do(func() { close(sm.close) })
	sm.wg.Wait()
}

// Stats retorna a última coleta.
func (sm *SystemMonitor) Stats() SystemStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stats
}

func (sm *SystemMonitor) run() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.close:
			return
		case <-ticker.C:
			sm.collect()
		}
	}
}

func (sm *SystemMonitor) collect() {
	stats := SystemStats{CollectedAt: time.Now()}

	if d, err := sm.usage(sm.path); err == nil {
		stats.DiskTotal = d.Total
		stats.DiskFree = d.Free
		stats.DiskUsagePercent = d.UsedPercent
		diskFreeBytes.Set(float64(d.Free))
	} else {
		sm.logger.Debug("failed to collect disk stats", "path", sm.path, "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
		memoryUsedPercent.Set(v.UsedPercent)
	} else {
		sm.logger.Debug("failed to collect memory stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage = l.Load1
		load1.Set(l.Load1)
	} else {
		sm.logger.Debug("failed to collect load stats", "error", err)
	}

	sm.mu.Lock()
	prev := sm.stats
	sm.stats = stats
	sm.mu.Unlock()

	low := sm.threshold.below(stats.DiskTotal, stats.DiskFree)
	wasLow := !prev.CollectedAt.IsZero() && sm.threshold.below(prev.DiskTotal, prev.DiskFree)
	if sm.threshold.Enabled() && stats.DiskTotal > 0 && low != wasLow {
		if low {
			sm.logger.Warn("staging disk below free space threshold",
				"path", sm.path, "free", humanize.IBytes(stats.DiskFree), "threshold", sm.threshold.String())
		} else {
			sm.logger.Info("staging disk back above free space threshold",
				"path", sm.path, "free", humanize.IBytes(stats.DiskFree))
		}
	}
}

// CheckSpace falha quando a última coleta está abaixo do limite.
// Sem coleta válida (disco ilegível) os writes não são bloqueados.
func (sm *SystemMonitor) CheckSpace() error {
	if !sm.threshold.Enabled() {
		return nil
	}
	st := sm.Stats()
	if st.CollectedAt.IsZero() {
		sm.collect()
		st = sm.Stats()
	}
	if st.DiskTotal == 0 {
		return nil
	}
	if sm.threshold.below(st.DiskTotal, st.DiskFree) {
		return fmt.Errorf("%s free on %s, need at least %s",
			humanize.IBytes(st.DiskFree), sm.path, sm.threshold.String())
	}
	return nil
}

// DiskStatus resume a última coleta de disco para o health check.
func (sm *SystemMonitor) DiskStatus() *observability.DiskStatus {
	st := sm.Stats()
	if st.DiskTotal == 0 {
		return nil
	}
	return &observability.DiskStatus{
		Path:        sm.path,
		Total:       st.DiskTotal,
		Free:        st.DiskFree,
		UsedPercent: st.DiskUsagePercent,
		FreeHuman:   humanize.IBytes(st.DiskFree),
		LowSpace:    sm.threshold.below(st.DiskTotal, st.DiskFree),
	}
}
