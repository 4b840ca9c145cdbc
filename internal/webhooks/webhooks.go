// Package webhooks receives payment processor events and reconciles them
// against onboarding sessions and tenant subscriptions.
//
// Every event is verified against the endpoint's signing secret before it
// is parsed. Processing is idempotent: the downstream writes are
// conditional, so redeliveries and out-of-order deliveries converge on the
// same state. The processed-event ledger short-circuits redeliveries but
// correctness never depends on it.
package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Errors
var (
	ErrInvalidSignature = errors.New("webhooks: invalid signature")
	ErrMalformedPayload = errors.New("webhooks: malformed payload")
)

// Outcome is what processing an event did.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeNoop           Outcome = "noop"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeSessionMissing Outcome = "session_missing"
	OutcomeTenantMissing  Outcome = "tenant_missing"
	OutcomeStale          Outcome = "stale"
	OutcomeUnhandled      Outcome = "unhandled"
	OutcomeDuplicate      Outcome = "duplicate"
)

// Result describes one handled delivery.
type Result struct {
	EventID string  `json:"eventId"`
	Type    string  `json:"type"`
	Outcome Outcome `json:"outcome"`
}

// Record is a ledger entry for a fully processed event.
type Record struct {
	EventID     string
	Type        string
	Outcome     Outcome
	ProcessedAt time.Time
}

// Ledger remembers processed event IDs.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, rec Record) error
}

// MemoryLedger is an in-memory ledger for development and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record)}
}

func (m *MemoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[eventID]
	return ok, nil
}

func (m *MemoryLedger) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.EventID]; !ok {
		m.records[rec.EventID] = rec
	}
	return nil
}

// Len returns the number of recorded events.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

var _ Ledger = (*MemoryLedger)(nil)
