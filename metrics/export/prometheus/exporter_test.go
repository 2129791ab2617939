package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campusreach/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricRateLimitDenied: 7,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricSessionLookupLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"authcore_rate_limit_denied_total 7",
		"authcore_session_created_total 0",
		`authcore_session_lookup_latency_seconds_bucket{le="0.005"} 1`,
		`authcore_session_lookup_latency_seconds_bucket{le="+Inf"} 36`,
		"authcore_session_lookup_latency_seconds_count 36",
		"authcore_audit_dropped_total 2",
		"# TYPE authcore_rate_limit_latency_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderConstLabels(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricSessionCreated: 3},
			Histograms: map[authcore.MetricID][]uint64{authcore.MetricRateLimitLatency: {1}},
		},
	}, WithConstLabels(map[string]string{"service": "campus-api", "az": `eu"1`}))

	out := exp.Render()
	if !strings.Contains(out, `authcore_session_created_total{az="eu\"1",service="campus-api"} 3`) {
		t.Fatalf("expected labelled counter, got:\n%s", out)
	}
	if !strings.Contains(out, `authcore_rate_limit_latency_seconds_bucket{az="eu\"1",service="campus-api",le="0.005"} 1`) {
		t.Fatalf("expected labelled bucket, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricSessionCreated: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRenderFromEngine(t *testing.T) {
	cfg := authcore.DefaultConfig()
	cfg.PasswordReset.Enabled = false

	engine, err := authcore.New().
		WithConfig(cfg).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Shutdown)

	decision, err := engine.RateLimiter().CheckRateLimit(t.Context(), "ip:203.0.113.9", "login", 1, time.Minute)
	if err != nil || !decision.Allowed {
		t.Fatalf("first check: %+v, %v", decision, err)
	}

	out := New(engine).Render()
	if !strings.Contains(out, "authcore_rate_limit_allowed_total 1") {
		t.Fatalf("expected allowed counter from engine, got:\n%s", out)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricRateLimitAllowed:            1000,
				authcore.MetricRateLimitDenied:             40,
				authcore.MetricSessionCreated:              800,
				authcore.MetricSessionLookupHit:            5000,
				authcore.MetricSessionDeleted:              20,
				authcore.MetricPasswordResetConfirmFailure: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricSessionLookupLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
