package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Deadline applies a single configured timeout to every request, wrapping
// the handler's context with context.WithTimeout. The scheduler's own
// hourly/daily runs are expected to
// finish well inside this window since the poller batches internally;
// this exists to bound a handler that hangs on a stuck upstream call.
type Deadline struct {
	logger  zerolog.Logger
	timeout time.Duration
}

// NewDeadline builds the middleware. A non-positive timeout disables it.
func NewDeadline(logger zerolog.Logger, timeout time.Duration) *Deadline {
	return &Deadline{logger: logger, timeout: timeout}
}

// Handler returns the HTTP middleware handler.
func (d *Deadline) Handler(next http.Handler) http.Handler {
	if d.timeout <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
		defer cancel()

		done := make(chan struct{})
		tw := &timeoutWriter{ResponseWriter: w}
		var panicVal any

		go func() {
			defer close(done)
			// Carry a handler panic back to this goroutine so an outer
			// Recoverer can handle it.
			defer func() { panicVal = recover() }()
			next.ServeHTTP(tw, r.WithContext(ctx))
		}()

		select {
		case <-done:
		case <-ctx.Done():
			tw.mu.Lock()
			tw.timedOut = true
			if !tw.wroteHeader {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "request timed out after " + d.timeout.String(),
				})
				tw.wroteHeader = true
			}
			tw.mu.Unlock()

			d.logger.Warn().
				Str("path", r.URL.Path).
				Dur("timeout", d.timeout).
				Msg("request timed out — handler goroutine still running with cancelled context")

			<-done
		}
		if panicVal != nil {
			panic(panicVal)
		}
	})
}

// timeoutWriter wraps http.ResponseWriter for safe concurrent access
// between the handler goroutine and the timeout goroutine.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, context.DeadlineExceeded
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}

func (tw *timeoutWriter) Flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
