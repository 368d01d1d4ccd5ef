package patient

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/novacare/clinic-intake/pkg/common/events"
	"github.com/novacare/clinic-intake/pkg/common/httpjson"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/naming"
	"github.com/novacare/clinic-intake/pkg/observability/metrics"
)

type Handler struct {
	repo      *Repository
	adapter   *naming.Adapter
	publisher events.Publisher
}

func NewHandler(repo *Repository, adapter *naming.Adapter, publisher events.Publisher) *Handler {
	return &Handler{repo: repo, adapter: adapter, publisher: publisher}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/local_patients", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/local_patient", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/local_patient/cin/{cin}", h.handleGetByCIN).Methods(http.MethodGet)
	r.HandleFunc("/api/local_patient/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/local_patient/{id}", h.handleUpdate).Methods(http.MethodPut)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetByID(r.Context(), mux.Vars(r)["id"])
	h.respond(w, http.StatusOK, p, err, "failed to load patient")
}

func (h *Handler) handleGetByCIN(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetByCIN(r.Context(), mux.Vars(r)["cin"])
	h.respond(w, http.StatusOK, p, err, "failed to load patient")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if val := r.URL.Query().Get("limit"); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed < 0 {
			httpjson.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	patients, err := h.repo.List(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list patients")
		httpjson.Error(w, http.StatusInternalServerError, "failed to list patients")
		return
	}

	items := make([]map[string]interface{}, 0, len(patients))
	for _, p := range patients {
		items = append(items, h.adapter.ToExchange(p))
	}
	httpjson.Write(w, http.StatusOK, items)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := httpjson.Decode(r)
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.repo.Create(r.Context(), h.adapter.Normalize(body))
	if err != nil {
		h.respond(w, http.StatusCreated, nil, err, "failed to create patient")
		return
	}

	metrics.IncPatientsCreated()
	h.publisher.Publish(r.Context(), models.EventPatientCreated, p.ID, map[string]interface{}{
		"patientId": p.ID,
		"cin":       p.CIN,
		"origin":    "direct",
	})
	httpjson.Write(w, http.StatusCreated, h.adapter.ToExchange(*p))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := httpjson.Decode(r)
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.repo.Update(r.Context(), mux.Vars(r)["id"], body)
	h.respond(w, http.StatusOK, p, err, "failed to update patient")
}

func (h *Handler) respond(w http.ResponseWriter, status int, p *models.Patient, err error, failure string) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpjson.Error(w, http.StatusNotFound, "patient not found locally")
	case errors.Is(err, ErrDuplicate):
		httpjson.Error(w, http.StatusConflict, err.Error())
	case err != nil:
		logger.Log.WithError(err).Error(failure)
		httpjson.Error(w, http.StatusInternalServerError, failure)
	default:
		httpjson.Write(w, status, h.adapter.ToExchange(*p))
	}
}
