package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/ghalamif/thermoflow/internal/domain"
)

type SampleReader interface {
	Current() domain.Sample
}

// ProducerRouter serves GET /data with the producer's current sample.
func ProducerRouter(p SampleReader, logger *slog.Logger) http.Handler {
	r := newRouter(logger)
	r.Get("/data", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, p.Current())
	})
	return r
}
