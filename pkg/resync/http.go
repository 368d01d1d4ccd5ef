package resync

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/novacare/clinic-intake/pkg/common/httpjson"
	"github.com/novacare/clinic-intake/pkg/common/logger"
)

type Handler struct {
	worker *Worker
}

func NewHandler(worker *Worker) *Handler {
	return &Handler{worker: worker}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/sync", h.handleSync).Methods(http.MethodPost)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	logger.Log.Info("Manual resync triggered")
	summary, err := h.worker.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			httpjson.Error(w, http.StatusConflict, err.Error())
			return
		}
		logger.Log.WithError(err).Error("manual resync failed")
		httpjson.Error(w, http.StatusInternalServerError, "resync failed")
		return
	}
	httpjson.Write(w, http.StatusOK, summary)
}
