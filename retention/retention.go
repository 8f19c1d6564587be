// Package retention enforces the hourly-price retention horizon: it
// identifies ended events and prunes their HourlyPrice rows beyond a
// configurable cutoff. Repeated application with the same clock is a
// no-op on the second pass.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/olticketwidget/price-ingest/store"
)

// Enforcer applies the retention horizon against a store.
type Enforcer struct {
	store         store.Store
	retentionDays int
}

// New builds an Enforcer. retentionDays must be non-negative; invalid
// (negative) values are expected to already have been normalized to the
// default of 7 by config.Load — Enforcer trusts its input.
func New(s store.Store, retentionDays int) *Enforcer {
	return &Enforcer{store: s, retentionDays: retentionDays}
}

// Summary reports what one CheckCutoff invocation did.
type Summary struct {
	RetentionDays     int       `json:"retentionDays"`
	Cutoff            time.Time `json:"cutoff"`
	EndedEventCount   int       `json:"endedEventCount"`
	DeletedHourlyRows int64     `json:"deletedHourlyRows"`
}

// CheckCutoff implements §4.8: compute the cutoff, identify ended events,
// and delete hourly rows for those events older than the cutoff.
func (e *Enforcer) CheckCutoff(ctx context.Context, now time.Time) (Summary, error) {
	cutoff := now.AddDate(0, 0, -e.retentionDays)

	endedIDs, err := e.store.EndedEventIDs(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("retention: ended event ids: %w", err)
	}

	deleted, err := e.store.DeleteHourlyPricesBefore(ctx, endedIDs, cutoff)
	if err != nil {
		return Summary{}, fmt.Errorf("retention: delete hourly prices: %w", err)
	}

	return Summary{
		RetentionDays:     e.retentionDays,
		Cutoff:            cutoff,
		EndedEventCount:   len(endedIDs),
		DeletedHourlyRows: deleted,
	}, nil
}

// PollerAdapter adapts an Enforcer to the generic map[string]any shape the
// poller engine's RetentionChecker interface expects, so poller doesn't
// need to import this package's concrete Summary type.
type PollerAdapter struct {
	Enforcer *Enforcer
}

// CheckCutoff satisfies poller.RetentionChecker.
func (a PollerAdapter) CheckCutoff(ctx context.Context, now time.Time) (map[string]any, error) {
	summary, err := a.Enforcer.CheckCutoff(ctx, now)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"retentionDays":     summary.RetentionDays,
		"cutoff":            summary.Cutoff,
		"endedEventCount":   summary.EndedEventCount,
		"deletedHourlyRows": summary.DeletedHourlyRows,
	}, nil
}
