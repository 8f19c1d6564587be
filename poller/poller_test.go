package poller

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/olticketwidget/price-ingest/store"
	"github.com/olticketwidget/price-ingest/storetest"
	"github.com/olticketwidget/price-ingest/teapi"
)

type fakeFetcher struct {
	calls    []int64
	listings map[int64][]teapi.Listing
	err      map[int64]error
}

func (f *fakeFetcher) GetListings(ctx context.Context, eventID int64) ([]teapi.Listing, error) {
	f.calls = append(f.calls, eventID)
	if err, ok := f.err[eventID]; ok {
		return nil, err
	}
	return f.listings[eventID], nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func eligibleListing(price float64) teapi.Listing {
	return teapi.Listing{
		Type:              "event",
		RetailPrice:       price,
		HasRetailPrice:    true,
		AvailableQuantity: 4,
		HasAvailableQty:   true,
		Splits:            []int{2},
	}
}

// TestScenarioS1DisabledEventSkipped mirrors the disabled-event scenario:
// only the enabled event is fetched and written.
func TestScenarioS1DisabledEventSkipped(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 5, 14, 5, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)

	fake.SeedEvent(store.Event{TEEventID: 1, PollingEnabled: false, EndsAt: &future})
	fake.SeedEvent(store.Event{TEEventID: 2, PollingEnabled: true, EndsAt: &future})

	fetcher := &fakeFetcher{listings: map[int64][]teapi.Listing{
		2: {eligibleListing(50)},
	}}

	hourBucket := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	fake.SeedRun(store.PollerRun{HourBucket: hourBucket, Status: store.RunStarted, StartedAt: now})

	e := New(fake, fetcher, nil, 10, testLogger())
	summary, err := e.Run(context.Background(), hourBucket, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Total != 1 {
		t.Fatalf("expected events_total=1, got %d", summary.Total)
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != 2 {
		t.Fatalf("expected TE client invoked once for event 2, got %v", fetcher.calls)
	}
	if fake.HourlyCount(2) != 1 {
		t.Fatalf("expected one hourly price row for event 2")
	}
	if fake.HourlyCount(1) != 0 {
		t.Fatalf("expected no hourly price row for disabled event 1")
	}
	if _, ok := fake.RunEvent(hourBucket, 1); ok {
		t.Fatalf("expected no PollerRunEvent row for disabled event 1")
	}
	if _, ok := fake.RunEvent(hourBucket, 2); !ok {
		t.Fatalf("expected a PollerRunEvent row for event 2")
	}
}

// TestInvariant8StopCheck verifies ended and expired events are never
// passed to the TE client.
func TestInvariant8StopCheck(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 5, 14, 5, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	fake.SeedEvent(store.Event{TEEventID: 1, PollingEnabled: true, EndedAt: &now})
	fake.SeedEvent(store.Event{TEEventID: 2, PollingEnabled: true, EndsAt: &past})
	fake.SeedEvent(store.Event{TEEventID: 3, PollingEnabled: false, EndsAt: &future})
	fake.SeedEvent(store.Event{TEEventID: 4, PollingEnabled: true, EndsAt: &future})

	fetcher := &fakeFetcher{listings: map[int64][]teapi.Listing{4: {eligibleListing(10)}}}

	hourBucket := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	fake.SeedRun(store.PollerRun{HourBucket: hourBucket, Status: store.RunStarted, StartedAt: now})

	e := New(fake, fetcher, nil, 10, testLogger())
	if _, err := e.Run(context.Background(), hourBucket, now); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fetcher.calls) != 1 || fetcher.calls[0] != 4 {
		t.Fatalf("expected only event 4 to be fetched, got %v", fetcher.calls)
	}
}

func TestRunClassifiesPartialAndFailed(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 5, 14, 5, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	fake.SeedEvent(store.Event{TEEventID: 1, PollingEnabled: true, EndsAt: &future})
	fake.SeedEvent(store.Event{TEEventID: 2, PollingEnabled: true, EndsAt: &future})

	fetcher := &fakeFetcher{
		listings: map[int64][]teapi.Listing{1: {eligibleListing(10)}},
		err:      map[int64]error{2: errTest{"boom"}},
	}

	hourBucket := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	fake.SeedRun(store.PollerRun{HourBucket: hourBucket, Status: store.RunStarted, StartedAt: now})

	e := New(fake, fetcher, nil, 10, testLogger())
	summary, err := e.Run(context.Background(), hourBucket, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != store.RunPartial {
		t.Fatalf("expected partial status, got %v", summary.Status)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
}

func TestRunSkipsEventsWithNoEligibleListings(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 5, 14, 5, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	fake.SeedEvent(store.Event{TEEventID: 1, PollingEnabled: true, EndsAt: &future})

	fetcher := &fakeFetcher{listings: map[int64][]teapi.Listing{1: {}}}
	hourBucket := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	fake.SeedRun(store.PollerRun{HourBucket: hourBucket, Status: store.RunStarted, StartedAt: now})

	e := New(fake, fetcher, nil, 10, testLogger())
	summary, err := e.Run(context.Background(), hourBucket, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 || summary.Status != store.RunSucceeded {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	row, ok := fake.RunEvent(hourBucket, 1)
	if !ok || row.Status != store.EventSkipped {
		t.Fatalf("expected skipped run-event row, got %+v (ok=%v)", row, ok)
	}
}

type errTest struct{ msg string }

func (e errTest) Error() string { return e.msg }
