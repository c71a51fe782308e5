package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Reporter tracks bytes copied per replica and logs them periodically.
type Reporter struct {
	interval time.Duration
	logger   *slog.Logger
	bytes    []atomic.Int64

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  []int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a reporter for n replicas. A zero interval disables
// periodic output but totals are still tracked and logged on Stop.
func NewReporter(n int, interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{
		interval:  interval,
		logger:    logger,
		bytes:     make([]atomic.Int64, n),
		lastBytes: make([]int64, n),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins periodic reporting.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	go r.updateLoop()
}

// Stop ends reporting and logs final totals. It waits for the loop to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// Copied adds n bytes to the replica's total.
func (r *Reporter) Copied(replica, n int) {
	if replica < 0 || replica >= len(r.bytes) {
		return
	}
	r.bytes[replica].Add(int64(n))
}

// Total returns the bytes copied so far by a replica.
func (r *Reporter) Total(replica int) int64 {
	if replica < 0 || replica >= len(r.bytes) {
		return 0
	}
	return r.bytes[replica].Load()
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	if r.interval <= 0 {
		<-r.stopCh
		r.logFinal()
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.logFinal()
			return
		case <-ticker.C:
			r.logProgress(time.Now())
		}
	}
}

func (r *Reporter) logProgress(now time.Time) {
	r.mu.Lock()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	r.lastUpdate = now

	for i := range r.bytes {
		total := r.bytes[i].Load()
		speed := float64(total-r.lastBytes[i]) / elapsed
		r.lastBytes[i] = total

		r.logger.Info("stream progress",
			"replica", i,
			"bytes", total,
			"copied", FormatBytes(total),
			"rate", FormatBytes(int64(speed))+"/s")
	}
	r.mu.Unlock()
}

func (r *Reporter) logFinal() {
	duration := time.Since(r.startTime)
	var total int64
	for i := range r.bytes {
		total += r.bytes[i].Load()
	}
	avg := float64(total) / max(duration.Seconds(), 0.001)

	r.logger.Info("stream totals",
		"replicas", len(r.bytes),
		"bytes", total,
		"copied", FormatBytes(total),
		"elapsed", formatDuration(duration),
		"avg_rate", FormatBytes(int64(avg))+"/s")
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
