package consultation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/novacare/clinic-intake/pkg/common/events"
	"github.com/novacare/clinic-intake/pkg/common/httpjson"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/naming"
)

type createRequest struct {
	PatientID    flexString `json:"patientId"`
	PatientCIN   string     `json:"patientCin"`
	DoctorID     flexString `json:"doctorId"`
	DoctorName   string     `json:"doctorName"`
	Date         flexTime   `json:"date"`
	Diagnosis    string     `json:"diagnosis"`
	Prescription []string   `json:"prescription"`
	Notes        string     `json:"notes"`
	Acts         []string   `json:"acts"`
}

// flexString accepts identifiers sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexTime never fails decoding; a date it cannot read is left zero so the
// repository stamps the current time.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	if t, ok := naming.ParseTime(s); ok {
		*f = flexTime(t)
	}
	return nil
}

type Handler struct {
	repo      *Repository
	publisher events.Publisher
}

func NewHandler(repo *Repository, publisher events.Publisher) *Handler {
	return &Handler{repo: repo, publisher: publisher}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/consultation", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/consultation/patient/{id}", h.handleListByPatient).Methods(http.MethodGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c := models.Consultation{
		PatientID:    strings.TrimSpace(string(req.PatientID)),
		PatientCIN:   strings.TrimSpace(req.PatientCIN),
		DoctorID:     strings.TrimSpace(string(req.DoctorID)),
		DoctorName:   req.DoctorName,
		Diagnosis:    req.Diagnosis,
		Prescription: req.Prescription,
		Notes:        req.Notes,
		Acts:         req.Acts,
	}
	if date := time.Time(req.Date); !date.IsZero() {
		c.Date = date.UTC()
	}

	created, err := h.repo.Create(r.Context(), c)
	if err != nil {
		logger.Log.WithError(err).Error("failed to create consultation")
		httpjson.Error(w, http.StatusInternalServerError, "failed to create consultation")
		return
	}

	h.publisher.Publish(r.Context(), models.EventConsultationCreated, strconv.FormatInt(created.ID, 10), map[string]interface{}{
		"consultationId": created.ID,
		"patientId":      created.PatientID,
		"doctorId":       created.DoctorID,
		"acts":           []string(created.Acts),
	})
	httpjson.Write(w, http.StatusCreated, created)
}

func (h *Handler) handleListByPatient(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListByPatient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		logger.Log.WithError(err).Error("failed to list consultations")
		httpjson.Error(w, http.StatusInternalServerError, "failed to list consultations")
		return
	}
	httpjson.Write(w, http.StatusOK, items)
}
