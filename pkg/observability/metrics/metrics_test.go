package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWritePrometheusIncludesLabelledCounters(t *testing.T) {
	IncCheckin("checked_in_new")
	IncCheckin("checked_in_new")
	IncPatientsCreated()

	rec := httptest.NewRecorder()
	WritePrometheus(rec)

	body := rec.Body.String()
	if !strings.Contains(body, `intake_checkins_total{outcome="checked_in_new"}`) {
		t.Fatalf("expected labelled check-in counter, got:\n%s", body)
	}
	if !strings.Contains(body, "# TYPE intake_patients_created_total counter") {
		t.Fatalf("expected patients counter type line, got:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if Checkins("checked_in_new") < 2 {
		t.Fatalf("expected at least two new check-ins, got %d", Checkins("checked_in_new"))
	}
}
