package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith("test_chat", reg, reg)
	m.Turns.WithLabelValues(OutcomeOK).Inc()
	m.Degradations.WithLabelValues(StageHistory).Add(2)
	m.ObserveTurnLatency(120 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`test_chat_turns_total{outcome="ok"} 1`,
		`test_chat_degradations_total{stage="history"} 2`,
		`test_chat_turn_latency_ms_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
