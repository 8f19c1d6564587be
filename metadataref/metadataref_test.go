package metadataref

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/olticketwidget/price-ingest/store"
	"github.com/olticketwidget/price-ingest/storetest"
	"github.com/olticketwidget/price-ingest/teapi"
)

type fakeEventFetcher struct {
	events map[int64]teapi.Event
	err    map[int64]error
}

func (f *fakeEventFetcher) GetEvent(ctx context.Context, id int64) (*teapi.Event, error) {
	if err, ok := f.err[id]; ok {
		return nil, err
	}
	ev := f.events[id]
	return &ev, nil
}

func TestResolveIDsPrecedence(t *testing.T) {
	queryID := int64(1)
	bodyID := int64(2)

	got := ResolveIDs(&queryID, Request{EventID: &bodyID, TEEventIDs: []int64{3, 4}})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected query event_id to win, got %v", got)
	}

	got = ResolveIDs(nil, Request{EventID: &bodyID, TEEventIDs: []int64{3, 4}})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected body event_id to win, got %v", got)
	}

	got = ResolveIDs(nil, Request{TEEventIDs: []int64{3, 4}})
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("expected body te_event_ids to win, got %v", got)
	}

	got = ResolveIDs(nil, Request{})
	if got != nil {
		t.Fatalf("expected nil (all events), got %v", got)
	}
}

// TestScenarioS6MetadataDryRun mirrors the dry-run scenario.
func TestScenarioS6MetadataDryRun(t *testing.T) {
	fake := storetest.New()
	fake.SeedEvent(store.Event{TEEventID: 1, Title: "Old"})

	fetcher := &fakeEventFetcher{events: map[int64]teapi.Event{
		1: {
			ID:       1,
			Name:     "New",
			OccursAt: time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC),
			Venue:    teapi.Venue{City: "Austin", StateCode: "TX", Name: "Moody Center"},
			Category: teapi.Category{ShortName: "concert"},
		},
	}}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(fake, fetcher, "https://example.com", "America/Chicago")

	summary, err := r.Run(context.Background(), []int64{1}, true, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Updated != 1 {
		t.Fatalf("expected 1 updated result in dry-run response, got %+v", summary)
	}
	if len(summary.Events) != 1 {
		t.Fatalf("expected one event result")
	}
	found := false
	for _, c := range summary.Events[0].Changes {
		if c == "title" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected title change reported, got %v", summary.Events[0].Changes)
	}

	stored, err := fake.GetEvent(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Title != "Old" {
		t.Fatalf("expected stored row unchanged in dry-run, got title=%q", stored.Title)
	}

	summary, err = r.Run(context.Background(), []int64{1}, false, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Updated != 1 {
		t.Fatalf("expected update to apply, got %+v", summary)
	}
	stored, err = fake.GetEvent(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Title != "New" {
		t.Fatalf("expected stored row updated, got title=%q", stored.Title)
	}
}

// TestInvariant9MetadataFailClosed verifies that when URL regeneration is
// required and fails, no field of that event is updated.
func TestInvariant9MetadataFailClosed(t *testing.T) {
	fake := storetest.New()
	fake.SeedEvent(store.Event{TEEventID: 1, Title: "Old"})

	fetcher := &fakeEventFetcher{events: map[int64]teapi.Event{
		1: {
			ID:   1,
			Name: "New",
			// OccursAt intentionally left zero to force urlbuilder.Build to
			// fail closed (fail-closed per §4.4's required-field check).
		},
	}}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(fake, fetcher, "https://example.com", "America/Chicago")

	summary, err := r.Run(context.Background(), []int64{1}, false, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Errors != 1 {
		t.Fatalf("expected 1 error result, got %+v", summary)
	}

	stored, err := fake.GetEvent(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Title != "Old" {
		t.Fatalf("expected no fields updated on fail-closed, got title=%q", stored.Title)
	}
}

func TestRefreshOnePropagatesFetchError(t *testing.T) {
	fake := storetest.New()
	fake.SeedEvent(store.Event{TEEventID: 1, Title: "Old"})
	fetcher := &fakeEventFetcher{err: map[int64]error{1: errors.New("te unavailable")}}

	r := New(fake, fetcher, "https://example.com", "America/Chicago")
	summary, err := r.Run(context.Background(), []int64{1}, true, time.Now().UTC())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Errors != 1 {
		t.Fatalf("expected error result, got %+v", summary)
	}
}
