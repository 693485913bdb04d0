package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ghalamif/thermoflow/internal/domain"
)

type WindowGateway interface {
	FiveMinutes(ctx context.Context) ([]byte, bool, error)
	Latest() ([]domain.Sample, error)
	LatestFor(id string) (domain.Sample, error)
}

type gatewayHandler struct {
	g      WindowGateway
	logger *slog.Logger
}

// GatewayRouter serves /five-minutes and the latest-sample reads.
func GatewayRouter(g WindowGateway, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &gatewayHandler{g: g, logger: logger}
	r := newRouter(logger)
	r.Get("/five-minutes", h.handleFiveMinutes)
	r.Get("/latest", h.handleLatest)
	r.Get("/latest/{sourceId}", h.handleLatestFor)
	return r
}

func (h *gatewayHandler) handleFiveMinutes(w http.ResponseWriter, r *http.Request) {
	payload, _, err := h.g.FiveMinutes(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrCacheUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "window data unavailable")
			return
		}
		h.logger.Error("five-minutes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *gatewayHandler) handleLatest(w http.ResponseWriter, _ *http.Request) {
	samples, err := h.g.Latest()
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no samples received yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, newData(samples))
}

func (h *gatewayHandler) handleLatestFor(w http.ResponseWriter, r *http.Request) {
	s, err := h.g.LatestFor(chi.URLParam(r, "sourceId"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no samples received for source")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
