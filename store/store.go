package store

import (
	"context"
	"time"
)

// Store is the persistence contract the ingestion core depends on. All
// writes are upserts keyed exactly as spec'd in §3, so concurrent batch
// workers and retried invocations never violate a unique key.
type Store interface {
	// ActiveEvents returns events eligible for polling: polling_enabled=true,
	// ended_at IS NULL, and (ends_at IS NULL OR ends_at > now). An
	// unparseable ends_at is never persisted as such — the predicate lives
	// entirely in SQL against a typed column, so the "fail-open" behavior
	// described in §4.6 step 1 only matters for the in-memory fake used in
	// tests against hand-built fixtures.
	ActiveEvents(ctx context.Context, now time.Time) ([]Event, error)

	// GetEvent fetches a single event by TE id. Returns nil, nil if absent.
	GetEvent(ctx context.Context, teEventID int64) (*Event, error)

	// ListEvents fetches events by id, or all events when ids is empty.
	ListEvents(ctx context.Context, ids []int64) ([]Event, error)

	// UpdateEventMetadata overwrites the full metadata set for an event
	// (used by the metadata refresher when dry_run is false) and bumps
	// updated_at.
	UpdateEventMetadata(ctx context.Context, ev Event, updatedAt time.Time) error

	// UpsertHourlyPrice writes (or overwrites) the aggregate for
	// (te_event_id, captured_at_hour).
	UpsertHourlyPrice(ctx context.Context, hp HourlyPrice) error

	// LatestHourlyPrice returns the most recent HourlyPrice row strictly
	// before the given hour for an event, or nil if none exists.
	LatestHourlyPrice(ctx context.Context, teEventID int64, beforeHour time.Time) (*HourlyPrice, error)

	// EndedEventIDs returns the union of events with ended_at set and
	// events whose ends_at has passed (per §4.8 step 2).
	EndedEventIDs(ctx context.Context, now time.Time) ([]int64, error)

	// DeleteHourlyPricesBefore deletes HourlyPrice rows for the given
	// events with captured_at_hour before cutoff, returning the count
	// deleted.
	DeleteHourlyPricesBefore(ctx context.Context, eventIDs []int64, cutoff time.Time) (int64, error)

	// RollupHourlyToDaily invokes the storage-side daily aggregation
	// procedure for the given UTC calendar date. Treated as a black box
	// per §3 "Lifecycles" — its exact aggregation rule is an open question
	// (see DESIGN.md).
	RollupHourlyToDaily(ctx context.Context, date time.Time) error

	// InsertRunStarted attempts to acquire the hour-bucket lock by
	// inserting a new PollerRun row. Returns ok=false on a unique-key
	// conflict (another run already owns — or owned — this bucket).
	InsertRunStarted(ctx context.Context, hourBucket time.Time, batchSize int, startedAt time.Time) (ok bool, err error)

	// GetRun fetches the PollerRun row for an hour bucket, or nil if none
	// exists.
	GetRun(ctx context.Context, hourBucket time.Time) (*PollerRun, error)

	// ReclaimStaleRun conditionally overwrites a PollerRun row that is
	// unfinished and older than staleCutoff, per §4.5 step 2. Returns
	// ok=true only if this call's UPDATE touched exactly one row — i.e.
	// this caller won the reclaim race.
	ReclaimStaleRun(ctx context.Context, hourBucket, staleCutoff, startedAt time.Time, batchSize int) (ok bool, err error)

	// UpdateRunProgress updates the running counters on a PollerRun row.
	UpdateRunProgress(ctx context.Context, hourBucket time.Time, eventsTotal, eventsProcessed int) error

	// FinalizeRun marks a PollerRun row complete with final counters and
	// diagnostics.
	FinalizeRun(ctx context.Context, hourBucket time.Time, status RunStatus, finishedAt time.Time, succeeded, failed, skipped int, errorSample *string, debug map[string]any) error

	// UpsertRunEvent writes the per-event outcome row for a run.
	UpsertRunEvent(ctx context.Context, pre PollerRunEvent) error

	// Close releases pooled connections.
	Close()
}
