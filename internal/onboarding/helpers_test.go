package onboarding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/retry"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeProvisioner returns one organization per session token.
type fakeProvisioner struct {
	mu    sync.Mutex
	orgs  map[string]*Organization
	calls int
	err   error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{orgs: make(map[string]*Organization)}
}

func (p *fakeProvisioner) Provision(_ context.Context, req ProvisionRequest) (*Organization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if org, ok := p.orgs[req.SessionToken]; ok {
		return org, nil
	}
	org := &Organization{
		ID:   fmt.Sprintf("org_%d", len(p.orgs)+1),
		Name: req.Name,
		Slug: "acme",
		Tier: req.Tier,
	}
	p.orgs[req.SessionToken] = org
	return org, nil
}

// fakeProcessor mimics a payment processor that honours idempotency keys.
type fakeProcessor struct {
	mu          sync.Mutex
	intents     map[string]*billing.Intent
	byKey       map[string]string
	customers   map[string]string
	custNames   map[string]string // idempotency key -> name it was first sent with
	custCalls   int
	createCalls int
	getCalls    int
	canceled    []string
	createErrs  []error // returned, in order, before any create succeeds
	getErr      error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		intents:   make(map[string]*billing.Intent),
		byKey:     make(map[string]string),
		customers: make(map[string]string),
		custNames: make(map[string]string),
	}
}

func (f *fakeProcessor) CreateCustomer(_ context.Context, req billing.CustomerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custCalls++
	if id, ok := f.customers[req.IdempotencyKey]; ok {
		if f.custNames[req.IdempotencyKey] != req.Name {
			return "", &billing.ProcessorError{Op: "create_customer", StatusCode: 400, Code: "idempotency_error",
				Err: errors.New("keys for idempotent requests can only be used with the same parameters")}
		}
		return id, nil
	}
	id := fmt.Sprintf("cus_%d", len(f.customers)+1)
	f.customers[req.IdempotencyKey] = id
	f.custNames[req.IdempotencyKey] = req.Name
	return id, nil
}

func (f *fakeProcessor) CreateIntent(ctx context.Context, req billing.IntentRequest) (*billing.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id, ok := f.byKey[req.IdempotencyKey]; ok {
		cp := *f.intents[id]
		return &cp, nil
	}
	id := fmt.Sprintf("pi_%d", len(f.intents)+1)
	in := &billing.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       billing.IntentRequiresPaymentMethod,
		Amount:       req.Amount,
		Currency:     req.Currency,
		CustomerRef:  req.CustomerRef,
		Metadata:     req.Metadata,
	}
	f.intents[id] = in
	f.byKey[req.IdempotencyKey] = id
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) GetIntent(_ context.Context, ref string) (*billing.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	in, ok := f.intents[ref]
	if !ok {
		return nil, &billing.ProcessorError{Op: "get_intent", StatusCode: 404, Err: errors.New("no such intent")}
	}
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) CancelIntent(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.intents[ref]; ok {
		in.Status = billing.IntentCanceled
	}
	f.canceled = append(f.canceled, ref)
	return nil
}

func (f *fakeProcessor) setStatus(ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[ref].Status = status
}

type harness struct {
	store     *MemoryStore
	clock     *testClock
	prov      *fakeProvisioner
	processor *fakeProcessor
	service   *Service
	bridge    *Bridge
}

func newHarness() *harness {
	h := &harness{
		store:     NewMemoryStore(),
		clock:     newTestClock(),
		prov:      newFakeProvisioner(),
		processor: newFakeProcessor(),
	}
	h.service = NewService(h.store, h.prov, testLogger).WithClock(h.clock.Now)
	h.bridge = NewBridge(h.service, h.store, h.processor, BridgeConfig{
		Currency:    "usd",
		CallTimeout: time.Second,
		Retry:       retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, testLogger)
	return h
}
