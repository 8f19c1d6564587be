// Package metadataref reconciles stored event metadata against Ticket
// Evolution, deciding an update set per event and applying it unless
// dry_run is set. URL regeneration is fail-closed: if it fails, no field
// of that event is updated.
package metadataref

import (
	"context"
	"fmt"
	"time"

	"github.com/olticketwidget/price-ingest/store"
	"github.com/olticketwidget/price-ingest/teapi"
	"github.com/olticketwidget/price-ingest/urlbuilder"
)

// eventDuration is the fixed event window used to derive ends_at from
// occurs_at.
const eventDuration = 4 * time.Hour

// EventFetcher is the subset of teclient.Client this package depends on.
type EventFetcher interface {
	GetEvent(ctx context.Context, eventID int64) (*teapi.Event, error)
}

// Request selects which events to refresh and whether to persist changes.
type Request struct {
	EventID    *int64
	TEEventIDs []int64
	DryRun     bool
}

// ResolveIDs implements the query > body.event_id > body.te_event_ids[] >
// "all" precedence (§4.7's id-selection rule). queryEventID is the value
// of a query-string event_id parameter, if present.
func ResolveIDs(queryEventID *int64, body Request) []int64 {
	if queryEventID != nil {
		return []int64{*queryEventID}
	}
	if body.EventID != nil {
		return []int64{*body.EventID}
	}
	if len(body.TEEventIDs) > 0 {
		return body.TEEventIDs
	}
	return nil
}

// EventResult is the per-event outcome reported back to the caller.
type EventResult struct {
	TEEventID int64
	Status    string // "updated", "unchanged", "error"
	Changes   []string
	Error     string
}

// Summary is the aggregate response for a refresh invocation.
type Summary struct {
	Updated   int
	Unchanged int
	Errors    int
	Events    []EventResult
}

// Refresher applies the reconciliation algorithm against a store and a TE
// client.
type Refresher struct {
	store      store.Store
	fetcher    EventFetcher
	oltBaseURL string
	defaultTZ  string
}

// New builds a Refresher.
func New(s store.Store, fetcher EventFetcher, oltBaseURL, defaultTZ string) *Refresher {
	return &Refresher{store: s, fetcher: fetcher, oltBaseURL: oltBaseURL, defaultTZ: defaultTZ}
}

// Run refreshes metadata for the given ids, or every stored event if ids
// is empty.
func (r *Refresher) Run(ctx context.Context, ids []int64, dryRun bool, now time.Time) (Summary, error) {
	events, err := r.store.ListEvents(ctx, ids)
	if err != nil {
		return Summary{}, fmt.Errorf("metadataref: list events: %w", err)
	}

	var summary Summary
	for _, stored := range events {
		result := r.refreshOne(ctx, stored, dryRun, now)
		summary.Events = append(summary.Events, result)
		switch result.Status {
		case "updated":
			summary.Updated++
		case "unchanged":
			summary.Unchanged++
		case "error":
			summary.Errors++
		}
	}
	return summary, nil
}

func (r *Refresher) refreshOne(ctx context.Context, stored store.Event, dryRun bool, now time.Time) EventResult {
	teEvent, err := r.fetcher.GetEvent(ctx, stored.TEEventID)
	if err != nil {
		return EventResult{TEEventID: stored.TEEventID, Status: "error", Error: err.Error()}
	}

	proposed := stored
	proposed.Title = teEvent.Name
	startsAt := teEvent.OccursAt
	proposed.StartsAt = &startsAt
	endsAt := startsAt.Add(eventDuration)
	proposed.EndsAt = &endsAt

	hasEnded := now.After(endsAt)
	if hasEnded {
		proposed.PollingEnabled = false
	} else {
		proposed.PollingEnabled = stored.PollingEnabled
	}

	if stored.EndedAt != nil {
		proposed.EndedAt = stored.EndedAt
	} else if hasEnded {
		endedNow := now
		proposed.EndedAt = &endedNow
	}

	titleChanged := stored.Title != proposed.Title
	startChanged := !timesEqual(stored.StartsAt, proposed.StartsAt)
	endChanged := !timesEqual(stored.EndsAt, proposed.EndsAt)
	needsURL := stored.OLTURL == nil || *stored.OLTURL == "" || titleChanged || startChanged || endChanged

	if needsURL {
		url, err := urlbuilder.Build(r.oltBaseURL, urlbuilder.Input{
			TEEventID: stored.TEEventID,
			Name:      teEvent.Name,
			OccursAt:  teEvent.OccursAt,
			City:      teEvent.Venue.City,
			State:     teEvent.Venue.StateLabel(),
			Venue:     teEvent.Venue.Name,
			Category:  teEvent.Category.CategoryLabel(),
			Timezone:  firstNonEmpty(teEvent.Timezone, r.defaultTZ),
		})
		if err != nil {
			// Fail-closed: no field of this event is updated.
			return EventResult{TEEventID: stored.TEEventID, Status: "error", Error: fmt.Sprintf("url regeneration failed: %v", err)}
		}
		proposed.OLTURL = &url
	}

	changes := diff(stored, proposed)
	if len(changes) == 0 {
		return EventResult{TEEventID: stored.TEEventID, Status: "unchanged"}
	}

	if dryRun {
		return EventResult{TEEventID: stored.TEEventID, Status: "updated", Changes: append(changes, "updated_at")}
	}

	if err := r.store.UpdateEventMetadata(ctx, proposed, now); err != nil {
		return EventResult{TEEventID: stored.TEEventID, Status: "error", Error: err.Error()}
	}
	return EventResult{TEEventID: stored.TEEventID, Status: "updated", Changes: append(changes, "updated_at")}
}

func diff(a, b store.Event) []string {
	var changes []string
	if a.Title != b.Title {
		changes = append(changes, "title")
	}
	if !timesEqual(a.StartsAt, b.StartsAt) {
		changes = append(changes, "starts_at")
	}
	if !timesEqual(a.EndsAt, b.EndsAt) {
		changes = append(changes, "ends_at")
	}
	if a.PollingEnabled != b.PollingEnabled {
		changes = append(changes, "polling_enabled")
	}
	if !timesEqual(a.EndedAt, b.EndedAt) {
		changes = append(changes, "ended_at")
	}
	if !stringsPtrEqual(a.OLTURL, b.OLTURL) {
		changes = append(changes, "olt_url")
	}
	return changes
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func stringsPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
