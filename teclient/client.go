// Package teclient is the signed HTTP client for the Ticket Evolution API:
// it attaches the X-Token/X-Signature headers, retries transient failures
// with exponential backoff, and decodes responses into teapi types.
package teclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/olticketwidget/price-ingest/signer"
	"github.com/olticketwidget/price-ingest/teapi"
)

// Config controls client construction; zero values fall back to the
// defaults below.
type Config struct {
	BaseURL    string
	Token      string
	Secret     string
	MaxRetries int
	// RetryBaseDelay is the delay before the first retry; each subsequent
	// attempt doubles it (1s, 2s, 4s for the default MaxRetries=3).
	RetryBaseDelay time.Duration
	// RequestTimeout bounds a single HTTP attempt, not the whole retry
	// loop — the caller's context bounds the loop.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	return c
}

// Client is a signed, retrying TE API client.
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
}

// New builds a Client with a dedicated, tuned http.Transport rather than
// http.DefaultTransport — connection reuse to a single upstream host
// matters once the poller is issuing hundreds of concurrent calls.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("teclient: invalid base URL %q: %w", cfg.BaseURL, err)
	}

	transport := &http.Transport{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		cfg:     cfg,
		baseURL: base,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
	}, nil
}

// GetListings fetches the ticket_groups/listings array for an event.
func (c *Client) GetListings(ctx context.Context, eventID int64) ([]teapi.Listing, error) {
	var resp teapi.ListingsResponse
	path := c.baseURL.Path + "/listings"
	params := map[string]string{
		"event_id": strconv.FormatInt(eventID, 10),
		"type":     "event",
	}
	if err := c.getJSON(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return resp.Items(), nil
}

// GetEvent fetches a single event by TE id.
func (c *Client) GetEvent(ctx context.Context, eventID int64) (*teapi.Event, error) {
	var ev teapi.Event
	path := fmt.Sprintf("%s/events/%d", c.baseURL.Path, eventID)
	if err := c.getJSON(ctx, path, nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEventsByPerformer fetches one page of events for a performer, used by
// bulk discovery tooling outside the ingestion core.
func (c *Client) GetEventsByPerformer(ctx context.Context, performerID int64, page, perPage int) (*teapi.EventsPage, error) {
	var out teapi.EventsPage
	path := c.baseURL.Path + "/events"
	params := map[string]string{
		"performer_id": strconv.FormatInt(performerID, 10),
		"page":         strconv.Itoa(page),
		"per_page":     strconv.Itoa(perPage),
	}
	if err := c.getJSON(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON performs a signed GET with retry/backoff and decodes the JSON
// body into out.
func (c *Client) getJSON(ctx context.Context, path string, params map[string]string, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		body, statusCode, err := c.doOnce(ctx, path, params)
		if err == nil {
			if decErr := json.Unmarshal(body, out); decErr != nil {
				return &Error{Kind: KindDecode, StatusCode: statusCode, Attempts: attempt + 1, Err: decErr}
			}
			return nil
		}

		terr, ok := err.(*Error)
		if !ok || !terr.Retryable() {
			if ok {
				terr.Attempts = attempt + 1
				return terr
			}
			return err
		}

		lastErr = terr
		if attempt < c.cfg.MaxRetries {
			delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &Error{Kind: KindTransport, Attempts: attempt + 1, Err: ctx.Err()}
			}
		}
	}

	if terr, ok := lastErr.(*Error); ok {
		terr.Attempts = c.cfg.MaxRetries + 1
		return terr
	}
	return lastErr
}

// doOnce performs a single signed HTTP attempt, returning the classified
// *Error on any failure so getJSON can decide whether to retry.
func (c *Client) doOnce(ctx context.Context, path string, params map[string]string) ([]byte, int, error) {
	reqURL := *c.baseURL
	reqURL.Path = path
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransport, Err: err}
	}

	sig := signer.Sign(http.MethodGet, c.baseURL.Host, path, params, c.cfg.Secret)
	req.Header.Set("X-Token", c.cfg.Token)
	req.Header.Set("X-Signature", sig)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &Error{Kind: KindTransport, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp.StatusCode, nil
	}

	if isRetryableStatus(resp.StatusCode) {
		return nil, resp.StatusCode, &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	}
	return nil, resp.StatusCode, &Error{Kind: KindPermanent, StatusCode: resp.StatusCode, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
}
