// Package urlbuilder derives the deterministic SEO URL the downstream
// widget uses as a click-through link for an event. It fails closed: any
// missing required input is returned as an error rather than a partial or
// best-guess URL.
package urlbuilder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Input is the subset of event/venue/category fields the URL depends on.
// TEEventID, Name and OccursAt must be non-zero for Build to succeed.
type Input struct {
	TEEventID int64
	Name      string
	OccursAt  time.Time
	City      string
	State     string
	Venue     string
	Category  string
	Quantity  int
	// Timezone is an IANA zone name the date/time portion of the slug is
	// rendered in. Empty defaults to America/Chicago.
	Timezone string
}

// Build produces the canonical SEO URL for an event, or an error if a
// required field is missing. baseURL is the public site root (no trailing
// slash).
func Build(baseURL string, in Input) (string, error) {
	if in.TEEventID == 0 {
		return "", fmt.Errorf("urlbuilder: missing event id")
	}
	if strings.TrimSpace(in.Name) == "" {
		return "", fmt.Errorf("urlbuilder: missing event name")
	}
	if in.OccursAt.IsZero() {
		return "", fmt.Errorf("urlbuilder: missing occurs_at")
	}

	tzName := in.Timezone
	if tzName == "" {
		tzName = "America/Chicago"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return "", fmt.Errorf("urlbuilder: invalid timezone %q: %w", tzName, err)
	}
	local := in.OccursAt.In(loc)

	slugParts := []string{
		slugify(in.Name) + "-tickets",
		fmt.Sprintf("%s-%s", slugify(in.City), slugify(in.State)),
		slugify(in.Venue),
		dateSlug(local),
		"at-" + timeSlug(local),
		slugify(in.Category),
	}
	path := strings.Join(slugParts, "_")

	quantity := in.Quantity
	if quantity <= 0 {
		quantity = 2
	}

	return fmt.Sprintf("%s/events/%s/%d?listingsType=event&orderListBy=retail_price%%20asc&quantity=%d",
		strings.TrimRight(baseURL, "/"), path, in.TEEventID, quantity), nil
}

// dateSlug renders "<dayName>-<dayNum>-<monthName>", day number without a
// leading zero.
func dateSlug(t time.Time) string {
	return fmt.Sprintf("%s-%s-%s",
		slugify(t.Format("Monday")),
		strconv.Itoa(t.Day()),
		slugify(t.Format("January")),
	)
}

// timeSlug renders "<h:mm>-<am|pm>", lowercased.
func timeSlug(t time.Time) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	ampm := "am"
	if t.Hour() >= 12 {
		ampm = "pm"
	}
	return fmt.Sprintf("%d:%02d-%s", hour, t.Minute(), ampm)
}
