// Package teapi models the JSON shapes returned by the Ticket Evolution
// listings and events endpoints and normalizes their inconsistencies
// (ticket_groups vs listings, string-or-number prices) into typed Go
// values at the edge. Nothing downstream of this package sees raw TE JSON.
package teapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Listing is one ticket-group/listing entry from the TE /listings response,
// normalized so callers never branch on the wire encoding of a field.
type Listing struct {
	ID                int64
	Type              string
	PublicNotes       string
	Notes             string
	RetailPrice       float64
	HasRetailPrice    bool
	AvailableQuantity int
	HasAvailableQty   bool
	Splits            []int
}

type rawListing struct {
	ID                int64           `json:"id"`
	Type              string          `json:"type"`
	PublicNotes       string          `json:"public_notes"`
	Notes             string          `json:"notes"`
	RetailPrice       json.RawMessage `json:"retail_price"`
	AvailableQuantity json.RawMessage `json:"available_quantity"`
	Splits            []int           `json:"splits"`
}

// UnmarshalJSON accepts retail_price and available_quantity as either a
// JSON number or a JSON string, which TE emits inconsistently across
// accounts and API versions.
func (l *Listing) UnmarshalJSON(data []byte) error {
	var raw rawListing
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode listing: %w", err)
	}

	l.ID = raw.ID
	l.Type = raw.Type
	l.PublicNotes = raw.PublicNotes
	l.Notes = raw.Notes
	l.Splits = raw.Splits

	if price, ok, err := decodeNumericField(raw.RetailPrice); err != nil {
		return fmt.Errorf("decode listing %d retail_price: %w", raw.ID, err)
	} else if ok {
		l.RetailPrice = price
		l.HasRetailPrice = true
	}

	if qty, ok, err := decodeNumericField(raw.AvailableQuantity); err != nil {
		return fmt.Errorf("decode listing %d available_quantity: %w", raw.ID, err)
	} else if ok {
		l.AvailableQuantity = int(qty)
		l.HasAvailableQty = true
	}

	return nil
}

// decodeNumericField parses a JSON field that may be absent, null, a
// number, or a quoted number string.
func decodeNumericField(raw json.RawMessage) (value float64, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, err
		}
		if s == "" {
			return 0, false, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// ListingsResponse is the decoded body of GET /v9/listings. TE returns the
// listing array under ticket_groups for some accounts/versions and under
// listings for others; Items() prefers ticket_groups and falls back to
// listings when ticket_groups is absent or empty.
type ListingsResponse struct {
	TicketGroups []Listing `json:"ticket_groups"`
	Listings     []Listing `json:"listings"`
}

// Items returns the normalized listing array regardless of which wire key
// TE populated for this account/version.
func (r ListingsResponse) Items() []Listing {
	if len(r.TicketGroups) > 0 {
		return r.TicketGroups
	}
	return r.Listings
}
