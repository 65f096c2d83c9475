// internal/handler/delivery_log_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/pricewatch-mailer/internal/errors"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
	"github.com/unclebandit/pricewatch-mailer/internal/service"
)

// DeliveryLogHandler serves the admin view of delivery logs
type DeliveryLogHandler struct {
	Service *service.DeliveryLogService
	Log     *zap.Logger
}

func NewDeliveryLogHandler(svc *service.DeliveryLogService, log *zap.Logger) *DeliveryLogHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryLogHandler{Service: svc, Log: log.Named("admin")}
}

// ListLogsHandler returns a paginated list of delivery logs
func (h *DeliveryLogHandler) ListLogsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	filter := model.LogFilter{
		Recipient: q.Get("recipient"),
		Page:      page,
		PageSize:  pageSize,
	}
	if raw := q.Get("status"); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}

	logs, pagination, err := h.Service.ListLogs(r.Context(), filter)
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidStatus) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("failed to list delivery logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch delivery logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       logs,
		"pagination": pagination,
	})
}

// GetLogHandler returns a single delivery log by ID
func (h *DeliveryLogHandler) GetLogHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	log, err := h.Service.GetLog(r.Context(), id)
	if err != nil {
		if appErrors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.Log.Error("failed to fetch delivery log", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch delivery log")
		return
	}

	writeJSON(w, http.StatusOK, log)
}

// StatsHandler returns delivery log counts per status
func (h *DeliveryLogHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.Log.Error("failed to count delivery logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
