package signer

import "testing"

func TestSignDeterministic(t *testing.T) {
	params := map[string]string{"event_id": "123", "type": "event"}
	a := Sign("GET", "api.sandbox.ticketevolution.com", "/v9/listings", params, "secret")
	b := Sign("GET", "api.sandbox.ticketevolution.com", "/v9/listings", params, "secret")
	if a != b {
		t.Fatalf("expected byte-equal signatures, got %q and %q", a, b)
	}
}

func TestSignDifferentSecretsDiffer(t *testing.T) {
	params := map[string]string{"event_id": "123"}
	a := Sign("GET", "host", "/v9/listings", params, "secret-a")
	b := Sign("GET", "host", "/v9/listings", params, "secret-b")
	if a == b {
		t.Fatal("expected differing secrets to produce differing signatures")
	}
}

func TestCanonicalStringEmptyParamsHasTrailingQuestionMark(t *testing.T) {
	got := CanonicalString("GET", "api.sandbox.ticketevolution.com", "/v9/events/5", nil)
	want := "GET api.sandbox.ticketevolution.com/v9/events/5?"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCanonicalStringSortsKeys(t *testing.T) {
	params := map[string]string{"type": "event", "event_id": "5", "page": "1"}
	got := CanonicalString("GET", "host", "/v9/listings", params)
	want := "GET host/v9/listings?event_id=5&page=1&type=event"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCanonicalStringEncodesSpacesAsPercent20(t *testing.T) {
	params := map[string]string{"orderListBy": "retail_price asc"}
	got := CanonicalString("GET", "host", "/v9/listings", params)
	want := "GET host/v9/listings?orderListBy=retail_price%20asc"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCanonicalStringMethodIsUppercased(t *testing.T) {
	got := CanonicalString("get", "host", "/v9/events/1", nil)
	want := "GET host/v9/events/1?"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
