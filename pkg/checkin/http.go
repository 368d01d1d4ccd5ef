package checkin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/novacare/clinic-intake/pkg/common/httpjson"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/naming"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/checkin", h.handleCheckIn).Methods(http.MethodPost)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	body, err := httpjson.Decode(r)
	if err != nil {
		logger.Log.WithError(err).Warn("invalid check-in payload")
		httpjson.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// Front desks that only scan the card send the CIN in the query string.
	if cin := strings.TrimSpace(r.URL.Query().Get("cin")); cin != "" {
		if _, ok := h.service.adapter.Lookup(body, naming.KeyCIN); !ok {
			body[naming.KeyCIN] = cin
		}
	}

	res, err := h.service.CheckIn(r.Context(), body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	payload := map[string]interface{}{
		"status":      "checked_in",
		"patient":     res.Patient,
		"checkinTime": res.CheckinTime,
	}
	status := http.StatusOK
	if res.IsNew {
		payload["isNewPatient"] = true
		status = http.StatusCreated
	}
	httpjson.Write(w, status, payload)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var ve ValidationError
	var ue *UpstreamError
	switch {
	case errors.As(err, &ve) && ve.MissingToken():
		httpjson.Error(w, http.StatusBadRequest, "cin is required")
	case errors.As(err, &ve):
		httpjson.Write(w, http.StatusNotFound, map[string]interface{}{
			"error":         "patient not found and required fields are missing to create it",
			"missingFields": ve.Fields,
		})
	case errors.Is(err, ErrBrokerUnavailable):
		httpjson.Error(w, http.StatusServiceUnavailable, "integration broker unavailable, retry later")
	case errors.As(err, &ue):
		httpjson.Write(w, http.StatusInternalServerError, map[string]interface{}{
			"error":          "unexpected response from integration broker",
			"upstreamStatus": ue.StatusCode,
		})
	default:
		logger.Log.WithError(err).Error("check-in failed")
		httpjson.Error(w, http.StatusInternalServerError, "check-in failed")
	}
}
