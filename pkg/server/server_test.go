package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/dvilelaf/tsunami/pkg/monitoring"
)

func TestSetupRouterExposesOperationalEndpoints(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	health := monitoring.NewHealthChecker("tsunami", "dev")
	health.AddCheck("noop", monitoring.PingCheck("noop", func(context.Context) error { return nil }))

	router := SetupRouter(logger, health)

	for _, path := range []string{"/health", "/metrics", "/version"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition on /metrics")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig("tsunami", "0")
	if err := Run(ctx, cfg, http.NewServeMux(), logger); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
