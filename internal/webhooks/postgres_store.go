package webhooks

import (
	"context"
	"database/sql"
)

// PostgresLedger records processed events in processed_webhook_events.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (p *PostgresLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	return exists, err
}

// Record is first-writer-wins.
func (p *PostgresLedger) Record(ctx context.Context, rec Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, outcome, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.Type, string(rec.Outcome), rec.ProcessedAt,
	)
	return err
}

var _ Ledger = (*PostgresLedger)(nil)
