package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// quietRoutes are polled so frequently by the Scheduler and displays that a
// successful response is noise (SPEC_FULL.md §3.3, carried forward from
// footron_controller/api.py's logging.Filter that drops clean GET /current
// and GET /placard/url lines).
var quietRoutes = map[string]bool{
	"/current":     true,
	"/placard/url": true,
}

// AccessLog wraps a handler to log one line per request, demoting
// successful responses on quietRoutes to Trace so they don't drown out
// everything else at Info level.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		dur := time.Since(start)

		event := log.Info()
		if quietRoutes[r.URL.Path] && rec.status == http.StatusOK {
			event = log.Trace()
		}
		event.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", dur).
			Msg("api: request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
