package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRegistered(t *testing.T) {
	RuntimesStarted.Inc()
	if got := testutil.ToFloat64(RuntimesStarted); got < 1 {
		t.Fatalf("expected runtimes_started >= 1, got %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	ActiveStreams.Set(3)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected exposition output")
	}
}
