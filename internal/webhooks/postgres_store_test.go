//go:build integration

package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/propline/onboarding/internal/testutil"
)

func TestPostgresLedger(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	l := NewPostgresLedger(db)

	seen, err := l.Seen(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("expected unseen, got %v, %v", seen, err)
	}

	rec := Record{EventID: "evt_1", Type: TypePaymentSucceeded, Outcome: OutcomeApplied, ProcessedAt: time.Now()}
	if err := l.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(ctx, rec); err != nil {
		t.Fatalf("second Record must be a no-op, got %v", err)
	}

	seen, err = l.Seen(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("expected seen, got %v, %v", seen, err)
	}
}
