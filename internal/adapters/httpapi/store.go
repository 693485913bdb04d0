package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ghalamif/thermoflow/internal/domain"
)

type RecordQuerier interface {
	QueryAll(ctx context.Context) ([]domain.Record, error)
	QueryBySource(ctx context.Context, id string) ([]domain.Record, error)
	QueryWindow(ctx context.Context, d time.Duration) ([]domain.Record, error)
}

type sourcePoint struct {
	Value      float64   `json:"value"`
	CapturedAt time.Time `json:"capturedAt"`
}

type sourceResponse struct {
	SourceID string        `json:"sourceId"`
	Data     []sourcePoint `json:"data"`
}

type storeHandler struct {
	q      RecordQuerier
	window time.Duration
	logger *slog.Logger
}

// StoreRouter serves the store read queries. window is the span of
// /last-5-minutes.
func StoreRouter(q RecordQuerier, window time.Duration, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &storeHandler{q: q, window: window, logger: logger}
	r := newRouter(logger)
	r.Get("/all", h.handleAll)
	r.Get("/for/{sourceId}", h.handleForSource)
	r.Get("/last-5-minutes", h.handleWindow)
	return r
}

func (h *storeHandler) handleAll(w http.ResponseWriter, r *http.Request) {
	recs, err := h.q.QueryAll(r.Context())
	if err != nil {
		h.respondQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newData(recs))
}

func (h *storeHandler) handleForSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sourceId")
	recs, err := h.q.QueryBySource(r.Context(), id)
	if err != nil {
		h.respondQueryError(w, r, err)
		return
	}
	points := make([]sourcePoint, 0, len(recs))
	for _, rec := range recs {
		points = append(points, sourcePoint{Value: rec.Value, CapturedAt: rec.CapturedAt})
	}
	writeJSON(w, http.StatusOK, sourceResponse{SourceID: id, Data: points})
}

func (h *storeHandler) handleWindow(w http.ResponseWriter, r *http.Request) {
	recs, err := h.q.QueryWindow(r.Context(), h.window)
	if err != nil {
		h.respondQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newData(recs))
}

func (h *storeHandler) respondQueryError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("store query failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "storage unavailable")
}
