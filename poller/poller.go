// Package poller implements the hourly fan-out: select active events,
// dispatch bounded-concurrency batches against the TE client, aggregate
// eligible listings, and write per-event and hourly rows. It assumes the
// caller already holds the hour-bucket lock (package runlock).
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/olticketwidget/price-ingest/aggregator"
	"github.com/olticketwidget/price-ingest/store"
	"github.com/olticketwidget/price-ingest/teapi"
	"github.com/olticketwidget/price-ingest/teclient"
)

// ListingsFetcher is the subset of teclient.Client the engine depends on,
// narrowed so tests can supply a fake without a live TE account.
type ListingsFetcher interface {
	GetListings(ctx context.Context, eventID int64) ([]teapi.Listing, error)
}

// RetentionChecker is the subset of the retention enforcer (C8) the
// engine invokes as a non-fatal step before fan-out (§4.6 step 3).
type RetentionChecker interface {
	CheckCutoff(ctx context.Context, now time.Time) (map[string]any, error)
}

// Engine runs one hourly poll across all active events.
type Engine struct {
	store     store.Store
	fetcher   ListingsFetcher
	retention RetentionChecker
	batchSize int
	log       zerolog.Logger
}

// New builds an Engine. retention may be nil, in which case step 3 is
// skipped and the returned debug blob has no retention entry.
func New(s store.Store, fetcher ListingsFetcher, retention RetentionChecker, batchSize int, log zerolog.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Engine{store: s, fetcher: fetcher, retention: retention, batchSize: batchSize, log: log}
}

// BatchSize returns the configured fan-out width, used by the scheduler
// binding when it records batch_size on lock acquisition.
func (e *Engine) BatchSize() int {
	return e.batchSize
}

// Summary is what the run coordinator needs to finalize the PollerRun row.
type Summary struct {
	Status      store.RunStatus
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	ErrorSample *string
	Debug       map[string]any
}

type eventOutcome struct {
	eventID int64
	status  store.EventRunStatus
	result  *aggregator.Result
	errMsg  string
}

// Run executes one hourly poll for hourBucket, writing per-event and
// hourly rows as it goes and returning the summary the caller finalizes
// the lock with.
func (e *Engine) Run(ctx context.Context, hourBucket, now time.Time) (Summary, error) {
	events, err := e.store.ActiveEvents(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("poller: list active events: %w", err)
	}

	if err := e.store.UpdateRunProgress(ctx, hourBucket, len(events), 0); err != nil {
		return Summary{}, fmt.Errorf("poller: update run progress: %w", err)
	}

	debug := map[string]any{
		"batch_size": e.batchSize,
	}
	if e.retention != nil {
		if summary, err := e.retention.CheckCutoff(ctx, now); err != nil {
			e.log.Warn().Err(err).Msg("retention cutoff check failed, continuing poll")
			debug["retention_error"] = err.Error()
		} else {
			debug["retention"] = summary
		}
	}

	var succeeded, failed, skipped int
	var firstErr string
	processed := 0

	for start := 0; start < len(events); start += e.batchSize {
		end := start + e.batchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]

		outcomes := e.runBatch(ctx, batch, hourBucket, now)
		for _, o := range outcomes {
			switch o.status {
			case store.EventSucceeded:
				succeeded++
			case store.EventFailed:
				failed++
				if firstErr == "" {
					firstErr = o.errMsg
				}
			case store.EventSkipped:
				skipped++
			}

			pre := store.PollerRunEvent{
				HourBucket: hourBucket,
				TEEventID:  o.eventID,
				Status:     o.status,
			}
			if o.result != nil {
				min, avg, max, cnt := o.result.Min, o.result.Avg, o.result.Max, o.result.ListingCount
				pre.MinPrice, pre.AvgPrice, pre.MaxPrice, pre.ListingCount = &min, &avg, &max, &cnt
			}
			if o.errMsg != "" {
				errCopy := o.errMsg
				pre.Error = &errCopy
			}
			if err := e.store.UpsertRunEvent(ctx, pre); err != nil {
				e.log.Error().Err(err).Int64("te_event_id", o.eventID).Msg("failed to write per-event run row")
			}
		}

		processed += len(batch)
		if err := e.store.UpdateRunProgress(ctx, hourBucket, len(events), processed); err != nil {
			e.log.Error().Err(err).Msg("failed to update run progress")
		}
	}

	status := classify(succeeded, failed)
	var errorSample *string
	if firstErr != "" {
		errorSample = &firstErr
	}

	return Summary{
		Status:      status,
		Total:       len(events),
		Succeeded:   succeeded,
		Failed:      failed,
		Skipped:     skipped,
		ErrorSample: errorSample,
		Debug:       debug,
	}, nil
}

// classify implements §4.6 step 6.
func classify(succeeded, failed int) store.RunStatus {
	switch {
	case failed == 0:
		return store.RunSucceeded
	case succeeded > 0:
		return store.RunPartial
	default:
		return store.RunFailed
	}
}

// runBatch processes one batch of events concurrently, one goroutine per
// event, and waits on a sync.WaitGroup for all of them before returning.
// Concurrency is bounded by the batch itself: the caller already sliced
// events into BATCH_SIZE chunks. Each goroutine writes its outcome into its
// own slot of the results slice.
func (e *Engine) runBatch(ctx context.Context, batch []store.Event, hourBucket, now time.Time) []eventOutcome {
	results := make([]eventOutcome, len(batch))
	var wg sync.WaitGroup

	for i, ev := range batch {
		wg.Add(1)
		go func(i int, ev store.Event) {
			defer wg.Done()
			results[i] = e.processEvent(ctx, ev, hourBucket, now)
		}(i, ev)
	}
	wg.Wait()

	return results
}

func (e *Engine) processEvent(ctx context.Context, ev store.Event, hourBucket, now time.Time) eventOutcome {
	listings, err := e.fetcher.GetListings(ctx, ev.TEEventID)
	if err != nil {
		return eventOutcome{eventID: ev.TEEventID, status: store.EventFailed, errMsg: err.Error()}
	}

	result := aggregator.Aggregate(listings)

	prior, err := e.store.LatestHourlyPrice(ctx, ev.TEEventID, hourBucket)
	if err != nil {
		e.log.Warn().Err(err).Int64("te_event_id", ev.TEEventID).Msg("failed to look up prior hourly price")
	} else if prior != nil && result != nil && prior.MinPrice != nil && *prior.MinPrice == result.Min {
		e.log.Warn().Int64("te_event_id", ev.TEEventID).Float64("min_price", result.Min).Msg("min price unchanged from prior hour bucket")
	}

	hp := store.HourlyPrice{
		TEEventID:      ev.TEEventID,
		CapturedAtHour: hourBucket,
		CreatedAt:      now,
	}
	if result == nil {
		zero := 0
		hp.ListingCount = &zero
		if err := e.store.UpsertHourlyPrice(ctx, hp); err != nil {
			return eventOutcome{eventID: ev.TEEventID, status: store.EventFailed, errMsg: err.Error()}
		}
		return eventOutcome{eventID: ev.TEEventID, status: store.EventSkipped, errMsg: "no_eligible_listings"}
	}

	min, avg, max, cnt := result.Min, result.Avg, result.Max, result.ListingCount
	hp.MinPrice, hp.AvgPrice, hp.MaxPrice, hp.ListingCount = &min, &avg, &max, &cnt
	if err := e.store.UpsertHourlyPrice(ctx, hp); err != nil {
		return eventOutcome{eventID: ev.TEEventID, status: store.EventFailed, errMsg: err.Error()}
	}

	return eventOutcome{eventID: ev.TEEventID, status: store.EventSucceeded, result: result}
}

var _ ListingsFetcher = (*teclient.Client)(nil)
