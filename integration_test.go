package integration_test

import (
	"os"
	"testing"
)

// Integration tests require external services and are skipped by default.
// To run them locally set RUN_PRICE_INGEST_INTEGRATION=1 and start postgres
// (and optionally redis) via docker-compose, then point DATABASE_URL at it.
func TestIntegrationSkipByDefault(t *testing.T) {
	if os.Getenv("RUN_PRICE_INGEST_INTEGRATION") != "1" {
		t.Skip("integration tests skipped; set RUN_PRICE_INGEST_INTEGRATION=1 to run")
	}
	// placeholder: add integration tests that exercise migrations against a
	// real postgres, and the scheduler endpoints end-to-end over HTTP.
}
