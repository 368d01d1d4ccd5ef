package consultation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/novacare/clinic-intake/pkg/common/events"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/store/storetest"
)

func newRouter(t *testing.T) (*mux.Router, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	h := NewHandler(NewRepository(storetest.New(t)), events.NewPublisher("test", rec))
	router := mux.NewRouter()
	h.Register(router)
	return router, rec
}

func post(t *testing.T, router http.Handler, body string) (*httptest.ResponseRecorder, models.Consultation) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/consultation", bytes.NewReader([]byte(body))))
	var c models.Consultation
	_ = json.Unmarshal(rec.Body.Bytes(), &c)
	return rec, c
}

func TestCreateConsultationDefaults(t *testing.T) {
	router, recorder := newRouter(t)

	rec, c := post(t, router, `{"patientId":12,"doctorId":"D-1","diagnosis":"Angina","prescription":["Aspirin"],"acts":["ECG"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if c.ID == 0 || c.PatientID != "12" {
		t.Fatalf("unexpected consultation %+v", c)
	}
	if c.Status != models.ConsultationStatusCompleted {
		t.Fatalf("expected status completed, got %q", c.Status)
	}
	if c.Date.IsZero() {
		t.Fatal("expected date to default to now")
	}
	if len(c.Acts) != 1 || c.Acts[0] != "ECG" {
		t.Fatalf("unexpected acts %v", c.Acts)
	}
	if got := recorder.Types(); len(got) != 1 || got[0] != models.EventConsultationCreated {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCreateConsultationBadJSON(t *testing.T) {
	router, _ := newRouter(t)
	if rec, _ := post(t, router, `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateConsultationLenientDate(t *testing.T) {
	router, _ := newRouter(t)

	rec, c := post(t, router, `{"patientId":"p1","doctorId":7,"date":"2024-05-01","diagnosis":"AF"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a date-only value, got %d: %s", rec.Code, rec.Body.String())
	}
	if want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC); !c.Date.Equal(want) {
		t.Fatalf("expected %v, got %v", want, c.Date)
	}

	before := time.Now().Add(-time.Minute)
	for _, date := range []string{`"yesterday"`, `12345`, `null`} {
		rec, c := post(t, router, `{"patientId":"p1","date":`+date+`}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("date %s: expected 201, got %d", date, rec.Code)
		}
		if c.Date.Before(before) {
			t.Fatalf("date %s: expected fallback to now, got %v", date, c.Date)
		}
	}
}

func TestListByPatient(t *testing.T) {
	router, _ := newRouter(t)

	_, first := post(t, router, `{"patientId":"p-1","diagnosis":"A"}`)
	post(t, router, `{"patientId":"p-2","diagnosis":"B"}`)
	_, third := post(t, router, `{"patientId":"p-1","diagnosis":"C"}`)
	if third.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d then %d", first.ID, third.ID)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/consultation/patient/p-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []models.Consultation
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || items[0].Diagnosis != "A" || items[1].Diagnosis != "C" {
		t.Fatalf("unexpected list %+v", items)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/consultation/patient/none", nil))
	if rec.Body.String() != "[]\n" {
		t.Fatalf("expected empty list, got %q", rec.Body.String())
	}
}
