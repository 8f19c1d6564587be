// Package storetest provides an in-memory store.Store fake so the
// ingestion core's tests can exercise real lock/upsert/retention semantics
// without a live Postgres instance.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/olticketwidget/price-ingest/store"
)

// Fake is a map-backed store.Store implementation. Safe for concurrent use.
type Fake struct {
	mu          sync.Mutex
	events      map[int64]store.Event
	hourly      map[hourlyKey]store.HourlyPrice
	runs        map[time.Time]store.PollerRun
	runEvents   map[runEventKey]store.PollerRunEvent
	RollupCalls []time.Time
}

type hourlyKey struct {
	eventID int64
	hour    time.Time
}

type runEventKey struct {
	hour    time.Time
	eventID int64
}

// New creates an empty fake store.
func New() *Fake {
	return &Fake{
		events:    make(map[int64]store.Event),
		hourly:    make(map[hourlyKey]store.HourlyPrice),
		runs:      make(map[time.Time]store.PollerRun),
		runEvents: make(map[runEventKey]store.PollerRunEvent),
	}
}

// SeedEvent inserts or overwrites an event fixture.
func (f *Fake) SeedEvent(ev store.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.TEEventID] = ev
}

// SeedHourlyPrice inserts an hourly price fixture directly, bypassing the
// upsert path, for scenario setup (e.g. S3's 30-day seed).
func (f *Fake) SeedHourlyPrice(hp store.HourlyPrice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hourly[hourlyKey{hp.TEEventID, hp.CapturedAtHour}] = hp
}

// SeedRun inserts a PollerRun fixture directly, for testing the reclaim
// and already-ran paths (S4, S5).
func (f *Fake) SeedRun(run store.PollerRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.HourBucket] = run
}

// RunEvent returns the stored per-event outcome row, if any.
func (f *Fake) RunEvent(hourBucket time.Time, teEventID int64) (store.PollerRunEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.runEvents[runEventKey{hourBucket, teEventID}]
	return v, ok
}

// HourlyCount returns the number of hourly rows retained for an event.
func (f *Fake) HourlyCount(teEventID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.hourly {
		if k.eventID == teEventID {
			n++
		}
	}
	return n
}

func (f *Fake) ActiveEvents(ctx context.Context, now time.Time) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Event
	for _, ev := range f.events {
		if !ev.PollingEnabled || ev.EndedAt != nil {
			continue
		}
		if ev.EndsAt != nil && !ev.EndsAt.After(now) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TEEventID < out[j].TEEventID })
	return out, nil
}

func (f *Fake) GetEvent(ctx context.Context, teEventID int64) (*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[teEventID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (f *Fake) ListEvents(ctx context.Context, ids []int64) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Event
	if len(ids) == 0 {
		for _, ev := range f.events {
			out = append(out, ev)
		}
	} else {
		for _, id := range ids {
			if ev, ok := f.events[id]; ok {
				out = append(out, ev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TEEventID < out[j].TEEventID })
	return out, nil
}

func (f *Fake) UpdateEventMetadata(ctx context.Context, ev store.Event, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[ev.TEEventID]; !ok {
		return fmt.Errorf("event %d not found", ev.TEEventID)
	}
	ev.UpdatedAt = updatedAt
	f.events[ev.TEEventID] = ev
	return nil
}

func (f *Fake) UpsertHourlyPrice(ctx context.Context, hp store.HourlyPrice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hp.CreatedAt.IsZero() {
		hp.CreatedAt = time.Now().UTC()
	}
	f.hourly[hourlyKey{hp.TEEventID, hp.CapturedAtHour}] = hp
	return nil
}

func (f *Fake) LatestHourlyPrice(ctx context.Context, teEventID int64, beforeHour time.Time) (*store.HourlyPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *store.HourlyPrice
	for k, v := range f.hourly {
		if k.eventID != teEventID || !k.hour.Before(beforeHour) {
			continue
		}
		if best == nil || v.CapturedAtHour.After(best.CapturedAtHour) {
			cp := v
			best = &cp
		}
	}
	return best, nil
}

func (f *Fake) EndedEventIDs(ctx context.Context, now time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[int64]bool{}
	var ids []int64
	for _, ev := range f.events {
		ended := ev.EndedAt != nil || (ev.EndedAt == nil && ev.EndsAt != nil && ev.EndsAt.Before(now))
		if ended && !seen[ev.TEEventID] {
			seen[ev.TEEventID] = true
			ids = append(ids, ev.TEEventID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *Fake) DeleteHourlyPricesBefore(ctx context.Context, eventIDs []int64, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[int64]bool{}
	for _, id := range eventIDs {
		wanted[id] = true
	}
	var deleted int64
	for k := range f.hourly {
		if wanted[k.eventID] && k.hour.Before(cutoff) {
			delete(f.hourly, k)
			deleted++
		}
	}
	return deleted, nil
}

func (f *Fake) RollupHourlyToDaily(ctx context.Context, date time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RollupCalls = append(f.RollupCalls, date)
	return nil
}

func (f *Fake) InsertRunStarted(ctx context.Context, hourBucket time.Time, batchSize int, startedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[hourBucket]; ok {
		return false, nil
	}
	f.runs[hourBucket] = store.PollerRun{
		HourBucket: hourBucket,
		Status:     store.RunStarted,
		BatchSize:  batchSize,
		StartedAt:  startedAt,
	}
	return true, nil
}

func (f *Fake) GetRun(ctx context.Context, hourBucket time.Time) (*store.PollerRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[hourBucket]
	if !ok {
		return nil, nil
	}
	cp := run
	return &cp, nil
}

func (f *Fake) ReclaimStaleRun(ctx context.Context, hourBucket, staleCutoff, startedAt time.Time, batchSize int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[hourBucket]
	if !ok || run.FinishedAt != nil || !run.StartedAt.Before(staleCutoff) {
		return false, nil
	}
	errSample := "stale_lock_timeout"
	f.runs[hourBucket] = store.PollerRun{
		HourBucket:  hourBucket,
		Status:      store.RunFailed,
		BatchSize:   batchSize,
		StartedAt:   startedAt,
		ErrorSample: &errSample,
	}
	return true, nil
}

func (f *Fake) UpdateRunProgress(ctx context.Context, hourBucket time.Time, eventsTotal, eventsProcessed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[hourBucket]
	if !ok {
		return fmt.Errorf("run %s not found", hourBucket)
	}
	run.EventsTotal = eventsTotal
	run.EventsProcessed = eventsProcessed
	f.runs[hourBucket] = run
	return nil
}

func (f *Fake) FinalizeRun(ctx context.Context, hourBucket time.Time, status store.RunStatus, finishedAt time.Time, succeeded, failed, skipped int, errorSample *string, debug map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[hourBucket]
	if !ok {
		return fmt.Errorf("run %s not found", hourBucket)
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	run.EventsSucceeded = succeeded
	run.EventsFailed = failed
	run.EventsSkipped = skipped
	run.ErrorSample = errorSample
	run.Debug = debug
	f.runs[hourBucket] = run
	return nil
}

func (f *Fake) UpsertRunEvent(ctx context.Context, pre store.PollerRunEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runEvents[runEventKey{pre.HourBucket, pre.TEEventID}] = pre
	return nil
}

func (f *Fake) Close() {}
