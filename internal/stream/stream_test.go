package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type staticSigner string

func (s staticSigner) Sign(method, rawURL string) (string, error) { return string(s), nil }

type failingSigner struct{ err error }

func (s failingSigner) Sign(method, rawURL string) (string, error) { return "", s.err }

func TestConnectSendsSignedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != `OAuth oauth_token="t"` {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected User-Agent header")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	conn := NewConnector(server.URL, staticSigner(`OAuth oauth_token="t"`), nil, nil)
	s, err := conn.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer s.Close()

	body, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("expected unconsumed body %q, got %q", "hello", body)
	}
}

func TestConnectUnauthorized(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	conn := NewConnector(server.URL, staticSigner("OAuth x"), nil, nil)
	s, err := conn.Connect(context.Background())
	if s != nil {
		t.Fatal("expected no stream on 401")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnauthorized {
		t.Errorf("expected code 401, got %d", statusErr.Code)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Error("expected error to match ErrUnauthorized")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("did not expect error to match ErrRateLimited")
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("expected exactly one request attempt, got %d", n)
	}
}

func TestConnectNonOKStatuses(t *testing.T) {
	tests := []struct {
		code        int
		rateLimited bool
	}{
		{code: http.StatusServiceUnavailable},
		{code: http.StatusTooManyRequests, rateLimited: true},
		{code: 420, rateLimited: true},
		{code: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer server.Close()

			_, err := NewConnector(server.URL, staticSigner("OAuth x"), nil, nil).Connect(context.Background())

			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.Code != tt.code {
				t.Fatalf("expected StatusError with code %d, got %v", tt.code, err)
			}
			if errors.Is(err, ErrRateLimited) != tt.rateLimited {
				t.Errorf("ErrRateLimited match = %t, want %t", !tt.rateLimited, tt.rateLimited)
			}
		})
	}
}

func TestConnectSigningFailure(t *testing.T) {
	boom := errors.New("bad url")
	conn := NewConnector("https://example.invalid/", failingSigner{err: boom}, nil, nil)

	if _, err := conn.Connect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected signing error, got %v", err)
	}
}

func TestConnectTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := NewConnector(addr, staticSigner("OAuth x"), nil, nil).Connect(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Fatalf("did not expect a StatusError, got %v", err)
	}
}

func TestPumpCopiesStreamToFile(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 10_000)
	payload = append(payload, []byte("tail")...)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for off := 0; off < len(payload); off += 7000 {
			end := min(off+7000, len(payload))
			_, _ = w.Write(payload[off:end])
			flusher.Flush()
		}
	}))
	defer server.Close()

	s, err := NewConnector(server.URL, staticSigner("OAuth x"), nil, nil).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer s.Close()

	path := filepath.Join(t.TempDir(), "stream_0.dat")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	var observed int
	pump := NewPump(4096, ObserverFunc(func(n int) { observed += n }))
	n, err := pump.Copy(context.Background(), f, s)
	if err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	if n != int64(len(payload)) {
		t.Errorf("expected %d bytes copied, got %d", len(payload), n)
	}
	if observed != len(payload) {
		t.Errorf("expected observer to see %d bytes, got %d", len(payload), observed)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("output differs from input: got %d bytes, want %d", len(got), len(payload))
	}
}

type errReader struct {
	data []byte
	err  error
}

func (r *errReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestPumpReadErrorKeepsPartialOutput(t *testing.T) {
	reset := errors.New("connection reset")
	src := &errReader{data: []byte("partial"), err: reset}
	var dst bytes.Buffer

	n, err := NewPump(3, nil).Copy(context.Background(), &dst, src)
	if !errors.Is(err, reset) {
		t.Fatalf("expected read error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "read:") {
		t.Errorf("expected read: prefix, got %q", err.Error())
	}
	if n != 7 || dst.String() != "partial" {
		t.Errorf("expected partial output kept, got n=%d dst=%q", n, dst.String())
	}
}

type failWriter struct {
	limit   int
	written int
}

func (w *failWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		n := w.limit - w.written
		w.written = w.limit
		return n, errors.New("disk full")
	}
	w.written += len(p)
	return len(p), nil
}

func TestPumpWriteError(t *testing.T) {
	dst := &failWriter{limit: 5}

	n, err := NewPump(4, nil).Copy(context.Background(), dst, strings.NewReader("0123456789"))
	if err == nil || !strings.HasPrefix(err.Error(), "write:") {
		t.Fatalf("expected write error, got %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written before failure, got %d", n)
	}
}

func TestPumpStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	n, err := NewPump(0, nil).Copy(ctx, &dst, strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing copied, got %d", n)
	}
}

func TestPumpEmptyStream(t *testing.T) {
	var dst bytes.Buffer
	n, err := NewPump(0, nil).Copy(context.Background(), &dst, strings.NewReader(""))
	if err != nil || n != 0 {
		t.Fatalf("expected clean empty copy, got n=%d err=%v", n, err)
	}
}
