package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersExposed(t *testing.T) {
	m := New()
	m.UpdateChecks.WithLabelValues("served").Inc()
	m.Downloads.WithLabelValues("esp").Add(2)

	if got := testutil.ToFloat64(m.Downloads.WithLabelValues("esp")); got != 2 {
		t.Fatalf("downloads = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `espota_update_checks_total{outcome="served"} 1`) {
		t.Fatalf("exposition missing update check counter:\n%s", body)
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != "ok" || Outcome(errors.New("x")) != "error" {
		t.Fatal("Outcome mapping wrong")
	}
}
