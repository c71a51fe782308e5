package progress

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		if result := FormatBytes(tt.input); result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		42 * time.Second:                           "42s",
		3*time.Minute + 5*time.Second:              "3m 5s",
		2*time.Hour + 10*time.Minute + time.Second: "2h 10m 1s",
	}

	for input, want := range tests {
		if got := formatDuration(input); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", input, got, want)
		}
	}
}

func TestReporterTracksPerReplicaTotals(t *testing.T) {
	var out syncBuffer
	r := NewReporter(3, 0, newTestLogger(&out))

	var wg sync.WaitGroup
	for replica := 0; replica < 3; replica++ {
		wg.Add(1)
		go func(replica int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Copied(replica, replica+1)
			}
		}(replica)
	}
	wg.Wait()

	for replica, want := range []int64{100, 200, 300} {
		if got := r.Total(replica); got != want {
			t.Errorf("Total(%d) = %d, want %d", replica, got, want)
		}
	}

	r.Copied(7, 10)
	if r.Total(7) != 0 {
		t.Error("expected out-of-range replica to be ignored")
	}
}

func TestReporterLogsProgressAndTotals(t *testing.T) {
	var out syncBuffer
	r := NewReporter(2, 10*time.Millisecond, newTestLogger(&out))

	r.Start()
	r.Copied(0, 2048)
	r.Copied(1, 10)

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "stream progress") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	logs := out.String()
	if !strings.Contains(logs, "stream progress") {
		t.Fatalf("expected periodic progress line, got %q", logs)
	}
	if !strings.Contains(logs, "stream totals") {
		t.Fatalf("expected final totals line, got %q", logs)
	}
	if !strings.Contains(logs, "bytes=2058") {
		t.Errorf("expected combined total of 2058 bytes, got %q", logs)
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	var out syncBuffer
	r := NewReporter(1, time.Second, newTestLogger(&out))
	r.Stop()

	if out.String() != "" {
		t.Errorf("expected no output, got %q", out.String())
	}
}
