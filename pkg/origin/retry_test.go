package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTransport(config RetryConfig) (*Transport, *[]time.Duration) {
	nop := zerolog.Nop()
	tr := NewTransport(nil, config, &nop)
	var waits []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return tr, &waits
}

func statusSequence(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := statuses[len(statuses)-1]
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		w.Write([]byte(http.StatusText(status)))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 100*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 100ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 2*time.Second {
		t.Errorf("MaxBackoff = %v, want 2s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ErrorClass
	}{
		{"ok", 200, nil, ErrorClassNone},
		{"not found is final", 404, nil, ErrorClassNone},
		{"too many requests", 429, nil, ErrorClassUnavailable},
		{"internal error", 500, nil, ErrorClassServer},
		{"bad gateway", 502, nil, ErrorClassServer},
		{"unavailable", 503, nil, ErrorClassUnavailable},
		{"not implemented is final", 501, nil, ErrorClassNone},
		{"network", 0, errors.New("connection refused"), ErrorClassNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.err == nil {
				resp = &http.Response{StatusCode: tt.status}
			}
			if got := Classify(resp, tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransport_RetriesServerErrors(t *testing.T) {
	srv, calls := statusSequence(t, 500, 502, 200)
	tr, waits := newTestTransport(RetryConfig{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/products", nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if *calls != 3 {
		t.Errorf("calls = %d, want 3", *calls)
	}
	if len(*waits) != 2 {
		t.Fatalf("waits = %v, want 2 backoffs", *waits)
	}
	// jitter keeps each wait within ±20% of 100ms then 200ms
	if w := (*waits)[0]; w < 80*time.Millisecond || w > 120*time.Millisecond {
		t.Errorf("first backoff = %v", w)
	}
	if w := (*waits)[1]; w < 160*time.Millisecond || w > 240*time.Millisecond {
		t.Errorf("second backoff = %v", w)
	}
}

func TestTransport_ExhaustedReturnsLastResponse(t *testing.T) {
	srv, calls := statusSequence(t, 503)
	tr, _ := newTestTransport(RetryConfig{MaxAttempts: 2})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if *calls != 2 {
		t.Errorf("calls = %d, want 2", *calls)
	}
}

func TestTransport_ClientErrorsNotRetried(t *testing.T) {
	srv, calls := statusSequence(t, 404)
	tr, waits := newTestTransport(DefaultRetryConfig())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	if *calls != 1 || len(*waits) != 0 {
		t.Errorf("calls = %d, waits = %v; want a single attempt", *calls, *waits)
	}
}

func TestTransport_NonIdempotentNotRetried(t *testing.T) {
	srv, calls := statusSequence(t, 500, 200)
	tr, _ := newTestTransport(DefaultRetryConfig())

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError || *calls != 1 {
		t.Errorf("status = %d, calls = %d; want 500 after one attempt", resp.StatusCode, *calls)
	}
}

func TestTransport_NetworkErrorExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, waits := newTestTransport(RetryConfig{MaxAttempts: 3})
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	_, err := tr.RoundTrip(req)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Class != ErrorClassNetwork || oerr.Attempts != 3 {
		t.Errorf("error = %#v", oerr)
	}
	if len(*waits) != 2 {
		t.Errorf("waits = %v, want 2", *waits)
	}
}

func TestTransport_ContextCancelledDuringBackoff(t *testing.T) {
	srv, calls := statusSequence(t, 500)
	tr, _ := newTestTransport(DefaultRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err := tr.RoundTrip(req)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if *calls > 1 {
		t.Errorf("calls = %d, want at most 1", *calls)
	}
}
