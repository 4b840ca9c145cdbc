package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/propline/onboarding/internal/billing"
)

// PostgresStore persists sessions in PostgreSQL. Schema lives in
// migrations/ and is applied with goose.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, token, current_step, total_steps, org_name, org_website, org_description,
	selected_tier, billing_cycle, payment_intent_ref, payment_status, payment_tier, payment_cycle, customer_ref,
	is_completed, completed_at, organization_id, user_id, expires_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO onboarding_sessions (id, token, current_step, total_steps, user_id, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Token, s.CurrentStep, s.TotalSteps, s.UserID, s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errors.New("onboarding: duplicate session token")
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetByToken(ctx context.Context, token string) (*Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM onboarding_sessions WHERE token = $1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) UpdateStep(ctx context.Context, token string, step int, patch StepPatch, now time.Time) (*Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx, `
		UPDATE onboarding_sessions SET
			org_name        = COALESCE($2, org_name),
			org_website     = COALESCE($3, org_website),
			org_description = COALESCE($4, org_description),
			selected_tier   = COALESCE($5, selected_tier),
			billing_cycle   = COALESCE($6, billing_cycle),
			current_step    = GREATEST(current_step, $7),
			updated_at      = $8
		WHERE token = $1 AND NOT is_completed AND expires_at > $8
		  AND (payment_status <> 'SUCCEEDED'
		       OR ($5::text IS NULL AND $6::text IS NULL)
		       OR (COALESCE($5::text, selected_tier) = payment_tier
		           AND COALESCE(NULLIF(COALESCE($6::text, billing_cycle), ''), 'MONTHLY')
		             = COALESCE(NULLIF(payment_cycle, ''), 'MONTHLY')))
		RETURNING `+sessionColumns,
		token,
		nullString(patch.OrgName),
		nullString(patch.OrgWebsite),
		nullString(patch.OrgDescription),
		nullTier(patch),
		nullCycle(patch),
		step,
		now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConditionFailed
	}
	return s, err
}

func (p *PostgresStore) AttachPaymentIntent(ctx context.Context, token string, att IntentAttachment, now time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE onboarding_sessions SET
			payment_intent_ref = $2,
			payment_status     = 'PENDING',
			payment_tier       = $6,
			payment_cycle      = $7,
			customer_ref       = CASE WHEN customer_ref = '' THEN $3 ELSE customer_ref END,
			updated_at         = $4
		WHERE token = $1
		  AND payment_intent_ref = $5
		  AND payment_status <> 'SUCCEEDED'
		  AND NOT is_completed AND expires_at > $4`,
		token, att.IntentRef, att.CustomerRef, now, att.ExpectedRef, string(att.Tier), string(att.Cycle),
	)
	return applied(result, err)
}

func (p *PostgresStore) SetCustomerRef(ctx context.Context, token, customerRef string, now time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE onboarding_sessions SET customer_ref = $2, updated_at = $3
		WHERE token = $1 AND customer_ref = ''
		  AND NOT is_completed AND expires_at > $3`,
		token, customerRef, now,
	)
	return applied(result, err)
}

func (p *PostgresStore) SetPaymentStatus(ctx context.Context, token, intentRef string, status PaymentStatus, now time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE onboarding_sessions SET
			payment_intent_ref = $2,
			payment_status     = $3,
			payment_tier       = CASE WHEN $3 = 'SUCCEEDED' AND payment_tier = '' THEN selected_tier ELSE payment_tier END,
			payment_cycle      = CASE WHEN $3 = 'SUCCEEDED' AND payment_tier = '' THEN billing_cycle ELSE payment_cycle END,
			updated_at         = $4
		WHERE token = $1
		  AND payment_status IN ('', 'PENDING')
		  AND (payment_intent_ref = '' OR payment_intent_ref = $2)
		  AND NOT is_completed AND expires_at > $4`,
		token, intentRef, string(status), now,
	)
	return applied(result, err)
}

func (p *PostgresStore) MarkCompleted(ctx context.Context, token, organizationID string, now time.Time) (*Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx, `
		UPDATE onboarding_sessions SET
			is_completed    = TRUE,
			completed_at    = $2,
			organization_id = $3,
			current_step    = $4,
			updated_at      = $2
		WHERE token = $1 AND NOT is_completed AND expires_at > $2
		RETURNING `+sessionColumns,
		token, now, organizationID, TotalSteps,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConditionFailed
	}
	return s, err
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM onboarding_sessions WHERE NOT is_completed AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var (
		tier, cycle, status string
		paidTier, paidCycle string
		completedAt         sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.Token, &s.CurrentStep, &s.TotalSteps, &s.OrgName, &s.OrgWebsite, &s.OrgDescription,
		&tier, &cycle, &s.PaymentIntentRef, &status, &paidTier, &paidCycle, &s.CustomerRef,
		&s.IsCompleted, &completedAt, &s.OrganizationID, &s.UserID, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SelectedTier = billing.Tier(tier)
	s.BillingCycle = billing.BillingCycle(cycle)
	s.PaymentStatus = PaymentStatus(status)
	s.PaymentTier = billing.Tier(paidTier)
	s.PaymentCycle = billing.BillingCycle(paidCycle)
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return s, nil
}

func applied(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTier(p StepPatch) sql.NullString {
	if p.SelectedTier == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p.SelectedTier), Valid: true}
}

func nullCycle(p StepPatch) sql.NullString {
	if p.BillingCycle == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p.BillingCycle), Valid: true}
}

var _ Store = (*PostgresStore)(nil)
