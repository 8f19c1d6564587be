package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed implementation of Store, built on a
// pooled connection handle shared across every goroutine in the process.
type PGStore struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool for dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) ActiveEvents(ctx context.Context, now time.Time) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT te_event_id, title, starts_at, ends_at, ended_at, polling_enabled, olt_url, created_at, updated_at
		FROM events
		WHERE polling_enabled = true
		  AND ended_at IS NULL
		  AND (ends_at IS NULL OR ends_at > $1)
		ORDER BY te_event_id`, now)
	if err != nil {
		return nil, fmt.Errorf("query active events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PGStore) GetEvent(ctx context.Context, teEventID int64) (*Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT te_event_id, title, starts_at, ends_at, ended_at, polling_enabled, olt_url, created_at, updated_at
		FROM events WHERE te_event_id = $1`, teEventID)
	ev, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", teEventID, err)
	}
	return ev, nil
}

func (s *PGStore) ListEvents(ctx context.Context, ids []int64) ([]Event, error) {
	var rows pgx.Rows
	var err error
	if len(ids) == 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT te_event_id, title, starts_at, ends_at, ended_at, polling_enabled, olt_url, created_at, updated_at
			FROM events ORDER BY te_event_id`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT te_event_id, title, starts_at, ends_at, ended_at, polling_enabled, olt_url, created_at, updated_at
			FROM events WHERE te_event_id = ANY($1) ORDER BY te_event_id`, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PGStore) UpdateEventMetadata(ctx context.Context, ev Event, updatedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE events SET
			title = $2, starts_at = $3, ends_at = $4, ended_at = $5,
			polling_enabled = $6, olt_url = $7, updated_at = $8
		WHERE te_event_id = $1`,
		ev.TEEventID, ev.Title, ev.StartsAt, ev.EndsAt, ev.EndedAt,
		ev.PollingEnabled, ev.OLTURL, updatedAt)
	if err != nil {
		return fmt.Errorf("update event %d metadata: %w", ev.TEEventID, err)
	}
	return nil
}

func (s *PGStore) UpsertHourlyPrice(ctx context.Context, hp HourlyPrice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_price_hourly (te_event_id, captured_at_hour, min_price, avg_price, max_price, listing_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (te_event_id, captured_at_hour) DO UPDATE SET
			min_price = EXCLUDED.min_price,
			avg_price = EXCLUDED.avg_price,
			max_price = EXCLUDED.max_price,
			listing_count = EXCLUDED.listing_count`,
		hp.TEEventID, hp.CapturedAtHour, hp.MinPrice, hp.AvgPrice, hp.MaxPrice, hp.ListingCount)
	if err != nil {
		return fmt.Errorf("upsert hourly price event=%d hour=%s: %w", hp.TEEventID, hp.CapturedAtHour, err)
	}
	return nil
}

func (s *PGStore) LatestHourlyPrice(ctx context.Context, teEventID int64, beforeHour time.Time) (*HourlyPrice, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT te_event_id, captured_at_hour, min_price, avg_price, max_price, listing_count, created_at
		FROM event_price_hourly
		WHERE te_event_id = $1 AND captured_at_hour < $2
		ORDER BY captured_at_hour DESC LIMIT 1`, teEventID, beforeHour)

	var hp HourlyPrice
	err := row.Scan(&hp.TEEventID, &hp.CapturedAtHour, &hp.MinPrice, &hp.AvgPrice, &hp.MaxPrice, &hp.ListingCount, &hp.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest hourly price event=%d: %w", teEventID, err)
	}
	return &hp, nil
}

func (s *PGStore) EndedEventIDs(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT te_event_id FROM events
		WHERE ended_at IS NOT NULL OR (ended_at IS NULL AND ends_at < $1)`, now)
	if err != nil {
		return nil, fmt.Errorf("query ended events: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ended event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) DeleteHourlyPricesBefore(ctx context.Context, eventIDs []int64, cutoff time.Time) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM event_price_hourly
		WHERE te_event_id = ANY($1) AND captured_at_hour < $2`, eventIDs, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete hourly prices before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// RollupHourlyToDaily is a black-box call into a storage-side procedure;
// its precise averaging rule is a confirmed open question (DESIGN.md).
func (s *PGStore) RollupHourlyToDaily(ctx context.Context, date time.Time) error {
	_, err := s.pool.Exec(ctx, `SELECT rollup_hourly_to_daily($1)`, date)
	if err != nil {
		return fmt.Errorf("rollup_hourly_to_daily(%s): %w", date.Format("2006-01-02"), err)
	}
	return nil
}

func (s *PGStore) InsertRunStarted(ctx context.Context, hourBucket time.Time, batchSize int, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO poller_runs (hour_bucket, status, batch_size, started_at, events_processed)
		VALUES ($1, 'started', $2, $3, 0)
		ON CONFLICT (hour_bucket) DO NOTHING`,
		hourBucket, batchSize, startedAt)
	if err != nil {
		return false, fmt.Errorf("insert poller run %s: %w", hourBucket, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) GetRun(ctx context.Context, hourBucket time.Time) (*PollerRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT hour_bucket, status, batch_size, events_total, events_processed,
		       events_succeeded, events_failed, events_skipped, started_at, finished_at,
		       error_sample, debug
		FROM poller_runs WHERE hour_bucket = $1`, hourBucket)

	var run PollerRun
	var debugRaw []byte
	err := row.Scan(&run.HourBucket, &run.Status, &run.BatchSize, &run.EventsTotal, &run.EventsProcessed,
		&run.EventsSucceeded, &run.EventsFailed, &run.EventsSkipped, &run.StartedAt, &run.FinishedAt,
		&run.ErrorSample, &debugRaw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get poller run %s: %w", hourBucket, err)
	}
	if len(debugRaw) > 0 {
		_ = json.Unmarshal(debugRaw, &run.Debug)
	}
	return &run, nil
}

func (s *PGStore) ReclaimStaleRun(ctx context.Context, hourBucket, staleCutoff, startedAt time.Time, batchSize int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE poller_runs SET
			status = 'failed', error_sample = 'stale_lock_timeout',
			started_at = $2, batch_size = $3, events_processed = 0, finished_at = NULL
		WHERE hour_bucket = $1 AND finished_at IS NULL AND started_at < $4`,
		hourBucket, startedAt, batchSize, staleCutoff)
	if err != nil {
		return false, fmt.Errorf("reclaim stale run %s: %w", hourBucket, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateRunProgress(ctx context.Context, hourBucket time.Time, eventsTotal, eventsProcessed int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE poller_runs SET events_total = $2, events_processed = $3 WHERE hour_bucket = $1`,
		hourBucket, eventsTotal, eventsProcessed)
	if err != nil {
		return fmt.Errorf("update run progress %s: %w", hourBucket, err)
	}
	return nil
}

func (s *PGStore) FinalizeRun(ctx context.Context, hourBucket time.Time, status RunStatus, finishedAt time.Time, succeeded, failed, skipped int, errorSample *string, debug map[string]any) error {
	debugJSON, err := json.Marshal(debug)
	if err != nil {
		return fmt.Errorf("marshal run debug blob: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE poller_runs SET
			status = $2, finished_at = $3, events_succeeded = $4, events_failed = $5,
			events_skipped = $6, error_sample = $7, debug = $8
		WHERE hour_bucket = $1`,
		hourBucket, status, finishedAt, succeeded, failed, skipped, errorSample, debugJSON)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", hourBucket, err)
	}
	return nil
}

func (s *PGStore) UpsertRunEvent(ctx context.Context, pre PollerRunEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO poller_run_events (hour_bucket, te_event_id, status, listing_count, min_price, avg_price, max_price, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (hour_bucket, te_event_id) DO UPDATE SET
			status = EXCLUDED.status, listing_count = EXCLUDED.listing_count,
			min_price = EXCLUDED.min_price, avg_price = EXCLUDED.avg_price,
			max_price = EXCLUDED.max_price, error = EXCLUDED.error`,
		pre.HourBucket, pre.TEEventID, pre.Status, pre.ListingCount, pre.MinPrice, pre.AvgPrice, pre.MaxPrice, pre.Error)
	if err != nil {
		return fmt.Errorf("upsert run event hour=%s event=%d: %w", pre.HourBucket, pre.TEEventID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	err := row.Scan(&ev.TEEventID, &ev.Title, &ev.StartsAt, &ev.EndsAt, &ev.EndedAt,
		&ev.PollingEnabled, &ev.OLTURL, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}
