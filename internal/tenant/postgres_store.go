package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/propline/onboarding/internal/billing"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, slug, website, description, owner_user_id, onboarding_token,
	plan, stripe_customer_id, status, created_at, updated_at`

const subscriptionColumns = `tenant_id, tier, status, current_period_start, current_period_end,
	external_customer_ref, external_subscription_ref, cancel_at_period_end, last_event_at,
	created_at, updated_at`

func (p *PostgresStore) Provision(ctx context.Context, t *Tenant, sub *Subscription) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Name, t.Slug, t.Website, t.Description, t.OwnerUserID,
		nullIfEmpty(t.OnboardingToken), string(t.Plan), nullIfEmpty(t.StripeCustomerID),
		string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return conflictError(err)
	}

	if sub != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tenant_subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, string(sub.Tier), string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
			sub.ExternalCustomerRef, sub.ExternalSubscriptionRef, sub.CancelAtPeriodEnd, sub.LastEventAt,
			sub.CreatedAt, sub.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// conflictError maps unique violations to the constraint that fired.
func conflictError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case "tenants_onboarding_token_key":
		return ErrAlreadyProvisioned
	case "tenants_stripe_customer_id_key":
		return ErrCustomerRefTaken
	default:
		return ErrSlugTaken
	}
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByOnboardingToken(ctx context.Context, token string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE onboarding_token = $1`, token))
}

func (p *PostgresStore) GetByCustomerRef(ctx context.Context, customerRef string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE stripe_customer_id = $1`, customerRef))
}

func (p *PostgresStore) SetCustomerRef(ctx context.Context, tenantID, customerRef string, now time.Time) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE tenants SET stripe_customer_id = $2, updated_at = $3 WHERE id = $1`,
		tenantID, customerRef, now)
	if err != nil {
		return conflictError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE tenant_subscriptions SET external_customer_ref = $2, updated_at = $3
		WHERE tenant_id = $1`, tenantID, customerRef, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	sub := &Subscription{}
	var tier, status string
	err := p.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM tenant_subscriptions WHERE tenant_id = $1`, tenantID,
	).Scan(
		&sub.TenantID, &tier, &status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.ExternalCustomerRef, &sub.ExternalSubscriptionRef, &sub.CancelAtPeriodEnd, &sub.LastEventAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Tier = billing.Tier(tier)
	sub.Status = SubscriptionStatus(status)
	return sub, nil
}

// ApplySubscriptionChange is a single INSERT ... ON CONFLICT whose update
// arm only fires for events at least as new as the last one applied, and
// never for the subscription that is already CANCELLED.
func (p *PostgresStore) ApplySubscriptionChange(ctx context.Context, tenantID string, ch SubscriptionChange, now time.Time) (bool, error) {
	insertTier := ch.Tier
	if insertTier == "" {
		insertTier = DefaultSubscriptionTier
	}
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO tenant_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (tenant_id) DO UPDATE SET
			tier                      = COALESCE(NULLIF($11, ''), tenant_subscriptions.tier),
			status                    = EXCLUDED.status,
			current_period_start      = EXCLUDED.current_period_start,
			current_period_end        = EXCLUDED.current_period_end,
			external_customer_ref     = EXCLUDED.external_customer_ref,
			external_subscription_ref = COALESCE(NULLIF(EXCLUDED.external_subscription_ref, ''), tenant_subscriptions.external_subscription_ref),
			cancel_at_period_end      = EXCLUDED.cancel_at_period_end,
			last_event_at             = EXCLUDED.last_event_at,
			updated_at                = EXCLUDED.updated_at
		WHERE NOT (tenant_subscriptions.status = 'CANCELLED'
		           AND EXCLUDED.external_subscription_ref IN ('', tenant_subscriptions.external_subscription_ref))
		  AND (tenant_subscriptions.last_event_at IS NULL
		       OR tenant_subscriptions.last_event_at <= EXCLUDED.last_event_at)`,
		tenantID, string(insertTier), string(ch.Status), ch.CurrentPeriodStart, ch.CurrentPeriodEnd,
		ch.CustomerRef, ch.SubscriptionRef, ch.CancelAtPeriodEnd, ch.EventAt, now, string(ch.Tier),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return false, ErrTenantNotFound
		}
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	var (
		plan, status    string
		token, stripeID sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Website, &t.Description, &t.OwnerUserID,
		&token, &plan, &stripeID, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Plan = billing.Tier(plan)
	t.Status = Status(status)
	t.OnboardingToken = token.String
	t.StripeCustomerID = stripeID.String
	return t, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
