// Package signer produces the HMAC-SHA256 request signatures Ticket
// Evolution requires on every call. The canonical string format is fixed
// by TE's contract, not by this service; deviating from it (especially the
// mandatory trailing "?") yields a 401 with no further diagnostic.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// Sign computes the base64-encoded HMAC-SHA256 signature for a TE request.
//
// The canonical string is "<METHOD> <host><path><query>", where query
// always starts with "?" — even when params is empty — and keys are sorted
// lexicographically with both keys and values percent-encoded using %20
// for spaces rather than the form-encoded "+".
func Sign(method, host, path string, params map[string]string, secret string) string {
	canonical := CanonicalString(method, host, path, params)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CanonicalString builds the exact string TE signs over, exported so
// callers constructing headers can log/debug it without recomputing.
func CanonicalString(method, host, path string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var query strings.Builder
	query.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(encodeComponent(k))
		query.WriteByte('=')
		query.WriteString(encodeComponent(params[k]))
	}

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(method))
	sb.WriteByte(' ')
	sb.WriteString(host)
	sb.WriteString(path)
	sb.WriteString(query.String())
	return sb.String()
}

// encodeComponent percent-encodes a query key or value the way TE expects:
// url.QueryEscape, but with its "+" for spaces swapped for "%20".
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
