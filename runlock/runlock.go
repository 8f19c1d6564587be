// Package runlock implements single-writer acquisition of the per-hour
// poller lock on top of the PollerRun unique key, including stale-lock
// reclaim, independent of the fan-out logic that runs once the lock is
// held.
package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/olticketwidget/price-ingest/store"
)

// Outcome reports the result of an Acquire call.
type Outcome string

const (
	// Acquired means the caller now owns the hour bucket and must call
	// Finalize when done.
	Acquired Outcome = "acquired"
	// AlreadyRan means a finished PollerRun already exists for this hour;
	// no work should be done.
	AlreadyRan Outcome = "already_ran"
	// AlreadyRunning means another unfinished, non-stale run owns this
	// hour bucket.
	AlreadyRunning Outcome = "already_running"
)

// Coordinator acquires and finalizes the per-hour-bucket lock.
type Coordinator struct {
	store            store.Store
	staleLockMinutes int
}

// New builds a Coordinator against the given store, reclaiming locks older
// than staleLockMinutes.
func New(s store.Store, staleLockMinutes int) *Coordinator {
	if staleLockMinutes <= 0 {
		staleLockMinutes = 15
	}
	return &Coordinator{store: s, staleLockMinutes: staleLockMinutes}
}

// TruncateToHourUTC truncates an instant to the start of its UTC hour.
// Idempotent: truncating an already-truncated instant is a no-op, and
// every instant in [H, H+1h) maps to H.
func TruncateToHourUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// Acquire attempts to take the lock for now's hour bucket, per the
// three-branch protocol: insert, or on conflict inspect the existing row
// and either report already_ran/already_running or reclaim a stale lock.
func (c *Coordinator) Acquire(ctx context.Context, now time.Time, batchSize int) (Outcome, time.Time, error) {
	hourBucket := TruncateToHourUTC(now)

	ok, err := c.store.InsertRunStarted(ctx, hourBucket, batchSize, now)
	if err != nil {
		return "", hourBucket, fmt.Errorf("runlock: insert run started: %w", err)
	}
	if ok {
		return Acquired, hourBucket, nil
	}

	existing, err := c.store.GetRun(ctx, hourBucket)
	if err != nil {
		return "", hourBucket, fmt.Errorf("runlock: get existing run: %w", err)
	}
	if existing == nil {
		return "", hourBucket, fmt.Errorf("runlock: insert conflicted but no existing row found for %s", hourBucket)
	}

	if existing.FinishedAt != nil {
		return AlreadyRan, hourBucket, nil
	}

	staleCutoff := now.Add(-time.Duration(c.staleLockMinutes) * time.Minute)
	if existing.StartedAt.Before(staleCutoff) {
		reclaimed, err := c.store.ReclaimStaleRun(ctx, hourBucket, staleCutoff, now, batchSize)
		if err != nil {
			return "", hourBucket, fmt.Errorf("runlock: reclaim stale run: %w", err)
		}
		if reclaimed {
			return Acquired, hourBucket, nil
		}
		// Another caller won the reclaim race between our read and our
		// conditional update.
		return AlreadyRunning, hourBucket, nil
	}

	return AlreadyRunning, hourBucket, nil
}

// Finalize marks the held lock's run row complete.
func (c *Coordinator) Finalize(ctx context.Context, hourBucket time.Time, status store.RunStatus, succeeded, failed, skipped int, errorSample *string, debug map[string]any) error {
	if err := c.store.FinalizeRun(ctx, hourBucket, status, time.Now().UTC(), succeeded, failed, skipped, errorSample, debug); err != nil {
		return fmt.Errorf("runlock: finalize run: %w", err)
	}
	return nil
}
