package scheduler

import (
	"net/http"
	"net/http/httptest"

	"github.com/robfig/cron/v3"
)

// StartInProcessCron wires the hourly and daily bindings to fire
// in-process on "0 * * * *" and "5 0 * * *" respectively, for operators
// without an external scheduler. It invokes the same handlers an external
// POST would hit, via an internal loopback request, so cron-triggered and
// externally-triggered runs are identical in every way that matters.
func StartInProcessCron(h *Handlers) *cron.Cron {
	c := cron.New()

	_, _ = c.AddFunc("0 * * * *", func() {
		invoke(h.Hourly, http.MethodPost, "/internal/hourly")
	})
	_, _ = c.AddFunc("5 0 * * *", func() {
		invoke(h.Daily, http.MethodPost, "/internal/daily")
	})

	c.Start()
	return c
}

func invoke(handler http.HandlerFunc, method, path string) {
	req := httptest.NewRequest(method, path, nil)
	rw := httptest.NewRecorder()
	handler(rw, req)
}
