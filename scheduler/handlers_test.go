package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/olticketwidget/price-ingest/metadataref"
	"github.com/olticketwidget/price-ingest/poller"
	"github.com/olticketwidget/price-ingest/retention"
	"github.com/olticketwidget/price-ingest/runlock"
	"github.com/olticketwidget/price-ingest/store"
	"github.com/olticketwidget/price-ingest/storetest"
	"github.com/olticketwidget/price-ingest/teapi"
)

type noopFetcher struct{}

func (noopFetcher) GetListings(ctx context.Context, eventID int64) ([]teapi.Listing, error) {
	return nil, nil
}

type noopEventFetcher struct{}

func (noopEventFetcher) GetEvent(ctx context.Context, eventID int64) (*teapi.Event, error) {
	return &teapi.Event{ID: eventID, Name: "Test", OccursAt: time.Now().UTC()}, nil
}

func testHandlers(t *testing.T) (*Handlers, *storetest.Fake) {
	t.Helper()
	fake := storetest.New()
	log := zerolog.New(io.Discard)

	coordinator := runlock.New(fake, 15)
	engine := poller.New(fake, noopFetcher{}, nil, 10, log)
	refresher := metadataref.New(fake, noopEventFetcher{}, "https://example.com", "America/Chicago")
	enforcer := retention.New(fake, 7)

	return &Handlers{
		Coordinator: coordinator,
		Engine:      engine,
		Refresher:   refresher,
		Retention:   enforcer,
		Roller:      fake,
		Log:         log,
	}, fake
}

func TestHourlyHandlerAcquiresAndRuns(t *testing.T) {
	h, _ := testHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/scheduler/hourly", nil)
	rw := httptest.NewRecorder()
	h.Hourly(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp hourlyResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "succeeded" {
		t.Fatalf("expected succeeded status, got %+v", resp)
	}
}

func TestHourlyHandlerSkipsWhenAlreadyRan(t *testing.T) {
	h, _ := testHandlers(t)

	req1 := httptest.NewRequest(http.MethodPost, "/scheduler/hourly", nil)
	rw1 := httptest.NewRecorder()
	h.Hourly(rw1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/scheduler/hourly", nil)
	rw2 := httptest.NewRecorder()
	h.Hourly(rw2, req2)

	var resp hourlyResponse
	if err := json.Unmarshal(rw2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "skipped" || resp.Reason != "already_ran" {
		t.Fatalf("expected skipped/already_ran on second call, got %+v", resp)
	}
}

func TestDailyHandlerRunsRollupAndRetention(t *testing.T) {
	h, _ := testHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/scheduler/daily", nil)
	rw := httptest.NewRecorder()
	h.Daily(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp dailyResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("unexpected daily response: %+v", resp)
	}
}

func TestRefreshMetadataDefaultsToDryRun(t *testing.T) {
	h, fake := testHandlers(t)
	fake.SeedEvent(store.Event{TEEventID: 1, Title: "Old"})

	req := httptest.NewRequest(http.MethodPost, "/scheduler/refresh-metadata", nil)
	rw := httptest.NewRecorder()
	h.RefreshMetadata(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	stored, err := fake.GetEvent(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Title != "Old" {
		t.Fatalf("expected stored row unchanged without dry_run in body, got title=%q", stored.Title)
	}
}

func TestRequireSharedSecretRejectsMismatch(t *testing.T) {
	h, _ := testHandlers(t)
	h.SharedSecret = "topsecret"

	mux := h.RequireSharedSecret(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/scheduler/hourly", nil)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", rw.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/scheduler/hourly", nil)
	req2.Header.Set("X-Scheduler-Secret", "topsecret")
	rw2 := httptest.NewRecorder()
	mux.ServeHTTP(rw2, req2)
	if rw2.Code != http.StatusOK {
		t.Fatalf("expected 200 with matching header, got %d", rw2.Code)
	}
}
