package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/logger"
	pnet "ghdiscover/internal/platform/net"
	phttp "ghdiscover/internal/platform/net/http"
)

// AccessLogOptions configures the zerolog access log
type AccessLogOptions struct {
	// Slow logs requests at warn once they take this long, 0 disables
	Slow time.Duration
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// AccessLogZerolog logs one line per request through the request scoped logger.
// Successful requests log at debug since probes are polled constantly
func AccessLogZerolog(opt AccessLogOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			ctx := logger.WithRequestID(r.Context(), pnet.RequestID(r.Context()))

			next.ServeHTTP(sw, r.WithContext(ctx))

			elapsed := time.Since(start)
			log := logger.C(ctx)
			evt := log.Debug()
			switch {
			case opt.Slow > 0 && elapsed >= opt.Slow:
				evt = log.Warn()
			case sw.status >= http.StatusInternalServerError:
				evt = log.Error()
			case sw.status >= http.StatusBadRequest:
				evt = log.Info()
			}
			evt.Int("status", sw.status).
				Dur("elapsed", elapsed).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("bytes", sw.bytes).
				Msg("request done")
		})
	}
}

// RecoverJSON turns a handler panic into a 500 envelope and logs the stack
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			reqID := pnet.RequestID(r.Context())
			logger.C(r.Context()).Error().
				Str("request_id", reqID).
				Interface("panic", v).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if reqID != "" {
				w.Header().Set("X-Request-ID", reqID)
			}
			err := perr.PanicErrf("panic recovered")
			status := perr.HTTPStatus(err)
			phttp.JSON(w, status, phttp.Envelope{
				StatusCode: status,
				Status:     http.StatusText(status),
				Code:       perr.CodeOf(err),
				Error:      err.Error(),
				RequestID:  reqID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}
