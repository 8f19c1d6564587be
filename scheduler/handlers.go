// Package scheduler exposes the three HTTP entry points an external
// scheduler (or the optional in-process cron trigger) invokes: hourly
// poll, daily rollup/retention, and on-demand metadata refresh.
package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/olticketwidget/price-ingest/metadataref"
	"github.com/olticketwidget/price-ingest/poller"
	"github.com/olticketwidget/price-ingest/retention"
	"github.com/olticketwidget/price-ingest/runlock"
	"github.com/olticketwidget/price-ingest/store"
)

// DailyRoller is the storage-side rollup call the daily binding makes
// before C8 runs.
type DailyRoller interface {
	RollupHourlyToDaily(ctx context.Context, date time.Time) error
}

// Handlers wires C5/C6/C7/C8 into the three invocation surfaces.
type Handlers struct {
	Coordinator  *runlock.Coordinator
	Engine       *poller.Engine
	Refresher    *metadataref.Refresher
	Retention    *retention.Enforcer
	Roller       DailyRoller
	SharedSecret string
	Log          zerolog.Logger
}

type errorEnvelope struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorEnvelope{Error: msg})
}

// RequireSharedSecret is middleware enforcing X-Scheduler-Secret when a
// secret is configured. Absent configuration, every request passes —
// matching spec.md's "POST with empty body" contract for operators who
// trust their network boundary instead.
func (h *Handlers) RequireSharedSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.SharedSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-Scheduler-Secret") != h.SharedSecret {
			writeError(w, http.StatusUnauthorized, "invalid or missing scheduler secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type hourlyResponse struct {
	Status          string         `json:"status"`
	Reason          string         `json:"reason,omitempty"`
	HourBucket      string         `json:"hour_bucket,omitempty"`
	Counters        map[string]int `json:"counters,omitempty"`
	TotalDurationMs int64          `json:"total_duration_ms,omitempty"`
}

// Hourly invokes C5 then C6.
func (h *Handlers) Hourly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	now := start.UTC()

	outcome, hourBucket, err := h.Coordinator.Acquire(ctx, now, h.Engine.BatchSize())
	if err != nil {
		h.Log.Error().Err(err).Msg("hourly: lock acquisition failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcome != runlock.Acquired {
		writeJSON(w, http.StatusOK, hourlyResponse{Status: "skipped", Reason: string(outcome)})
		return
	}

	summary, err := h.Engine.Run(ctx, hourBucket, now)
	if err != nil {
		errMsg := err.Error()
		if finalizeErr := h.Coordinator.Finalize(ctx, hourBucket, store.RunFailed, 0, 0, 0, &errMsg, nil); finalizeErr != nil {
			h.Log.Error().Err(finalizeErr).Msg("hourly: failed to finalize run after engine error")
		}
		h.Log.Error().Err(err).Msg("hourly: poller engine failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.Coordinator.Finalize(ctx, hourBucket, summary.Status, summary.Succeeded, summary.Failed, summary.Skipped, summary.ErrorSample, summary.Debug); err != nil {
		h.Log.Error().Err(err).Msg("hourly: failed to finalize run")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, hourlyResponse{
		Status:     string(summary.Status),
		HourBucket: hourBucket.Format(time.RFC3339),
		Counters: map[string]int{
			"events_total":     summary.Total,
			"events_succeeded": summary.Succeeded,
			"events_failed":    summary.Failed,
			"events_skipped":   summary.Skipped,
		},
		TotalDurationMs: time.Since(start).Milliseconds(),
	})
}

type dailyResponse struct {
	Status            string `json:"status"`
	EndedEventCount   int    `json:"endedEventCount"`
	DeletedHourlyRows int64  `json:"deletedHourlyRows"`
}

// Daily invokes the storage-side rollup procedure, then C8.
func (h *Handlers) Daily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)

	if err := h.Roller.RollupHourlyToDaily(ctx, yesterday); err != nil {
		h.Log.Error().Err(err).Msg("daily: rollup failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary, err := h.Retention.CheckCutoff(ctx, now)
	if err != nil {
		h.Log.Error().Err(err).Msg("daily: retention check failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dailyResponse{
		Status:            "ok",
		EndedEventCount:   summary.EndedEventCount,
		DeletedHourlyRows: summary.DeletedHourlyRows,
	})
}

type refreshMetadataBody struct {
	EventID    *int64  `json:"event_id"`
	TEEventIDs []int64 `json:"te_event_ids"`
	DryRun     *bool   `json:"dry_run"`
}

// RefreshMetadata invokes C7 with a request body, or query param
// event_id. dry_run defaults to true.
func (h *Handlers) RefreshMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body refreshMetadataBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	var queryEventID *int64
	if v := r.URL.Query().Get("event_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event_id query parameter")
			return
		}
		queryEventID = &id
	}

	dryRun := true
	if body.DryRun != nil {
		dryRun = *body.DryRun
	}

	ids := metadataref.ResolveIDs(queryEventID, metadataref.Request{
		EventID:    body.EventID,
		TEEventIDs: body.TEEventIDs,
		DryRun:     dryRun,
	})

	summary, err := h.Refresher.Run(ctx, ids, dryRun, time.Now().UTC())
	if err != nil {
		h.Log.Error().Err(err).Msg("refresh metadata: run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
