package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/respcache/internal/testutil"
	"github.com/Sternrassler/respcache/pkg/metrics"
	"github.com/Sternrassler/respcache/pkg/middleware"
)

func TestRegistry(t *testing.T) {
	if metrics.Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestHandler_ExposesCacheMetrics(t *testing.T) {
	logger := zerolog.Nop()
	cfg := middleware.DefaultConfig()
	cfg.Logger = &logger
	mw, err := middleware.New(testutil.NewRecordingStore(), cfg)
	if err != nil {
		t.Fatalf("middleware.New() error = %v", err)
	}
	defer mw.Close()

	h := mw.Handler(testutil.NewMockOrigin())
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products", nil))
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`respcache_requests_total{status="miss"}`,
		`respcache_requests_total{status="hit"}`,
		`respcache_writes_total{result="stored"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
