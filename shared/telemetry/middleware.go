package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Middleware injects the telemetry instance into the request context and
// records per-request duration metrics.
func Middleware(tel *Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tel == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithTelemetry(r.Context(), tel)
			start := time.Now()

			next.ServeHTTP(w, r.WithContext(ctx))

			RecordHistogram(ctx, "http_request_duration_seconds",
				"HTTP request duration in seconds",
				time.Since(start).Seconds(),
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
			)
		})
	}
}
