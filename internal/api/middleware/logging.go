package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder captures the response status and size for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// principalHolder lets the auth middleware, which runs inside the logger,
// surface the resolved principal back out to the request log line.
type principalHolder struct {
	p *Principal
}

type holderContextKey string

const holderKey holderContextKey = "principal-holder"

// recordPrincipal notes the authenticated principal for the request log.
func recordPrincipal(ctx context.Context, p *Principal) {
	if h, ok := ctx.Value(holderKey).(*principalHolder); ok {
		h.p = p
	}
}

// StructuredLogger logs one line per request. Calls from the proxy log as
// anonymous; management calls carry the principal subject and the size of
// its tenant scope (zero meaning a system-level caller).
func StructuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		holder := &principalHolder{}
		ctx := context.WithValue(r.Context(), holderKey, holder)

		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		attrs := []any{
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if holder.p != nil {
			attrs = append(attrs,
				"principal", holder.p.Subject,
				"tenant_scope", len(holder.p.TenantUUIDs),
			)
		}
		slog.Info("http request", attrs...)
	})
}
