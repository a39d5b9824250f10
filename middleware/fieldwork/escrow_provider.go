package fieldwork

import (
	"context"
	"fmt"
	"sync"

	"fieldproof-backend/core/fieldwork"
)

// FundingReceipt is the provider's answer to a funding request.
type FundingReceipt struct {
	Reference string `json:"reference"`
	Confirmed bool   `json:"confirmed"`
}

// LineReceipt is the provider's answer to a release or refund. Confirmed
// is false while the provider settles asynchronously.
type LineReceipt struct {
	Reference string `json:"reference"`
	Confirmed bool   `json:"confirmed"`
}

// EscrowProvider is the external funds custodian. Every call is idempotent:
// Fund by task id, Release and Refund by the line's idempotency key, so a
// retried call reports the state of the original request. Permanent
// refusals wrap fieldwork.ErrProviderRejected; anything else is transient.
type EscrowProvider interface {
	Name() string
	Fund(ctx context.Context, taskID string, amount fieldwork.Money) (FundingReceipt, error)
	FundingConfirmed(ctx context.Context, reference string) (bool, error)
	Lock(ctx context.Context, reference string) error
	Release(ctx context.Context, reference string, line fieldwork.SettlementLine) (LineReceipt, error)
	Refund(ctx context.Context, reference string, line fieldwork.SettlementLine) (LineReceipt, error)
}

// NewEscrowProvider selects a provider based on name.
func NewEscrowProvider(name, base string) EscrowProvider {
	switch name {
	case "http":
		return NewHTTPEscrowProvider(base)
	default:
		return NewMockEscrowProvider()
	}
}

type mockLine struct {
	line  fieldwork.SettlementLine
	polls int
	done  bool
}

// MockEscrowProvider keeps custody in memory. In async mode funding and
// settlement confirm on the second call for the same request.
type MockEscrowProvider struct {
	mu       sync.Mutex
	async    bool
	failures map[string][]error
	calls    map[string]int
	funded   map[string]bool
	locked   map[string]bool
	lines    map[string]*mockLine
	paid     map[string]int64
}

// NewMockEscrowProvider returns a provider that confirms everything immediately.
func NewMockEscrowProvider() *MockEscrowProvider {
	return &MockEscrowProvider{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		funded:   make(map[string]bool),
		locked:   make(map[string]bool),
		lines:    make(map[string]*mockLine),
		paid:     make(map[string]int64),
	}
}

func (m *MockEscrowProvider) Name() string { return "mock" }

// SetAsync toggles delayed confirmation.
func (m *MockEscrowProvider) SetAsync(async bool) {
	m.mu.Lock()
	m.async = async
	m.mu.Unlock()
}

// FailNext queues errors returned by the next calls of op
// (fund, funding_status, lock, release, refund).
func (m *MockEscrowProvider) FailNext(op string, errs ...error) {
	m.mu.Lock()
	m.failures[op] = append(m.failures[op], errs...)
	m.mu.Unlock()
}

// Calls reports how many times op was invoked.
func (m *MockEscrowProvider) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Paid reports the total moved to a wallet or requester, counted once per line.
func (m *MockEscrowProvider) Paid(to string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paid[to]
}

// call must be invoked with mu held.
func (m *MockEscrowProvider) call(op string) error {
	m.calls[op]++
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MockEscrowProvider) Fund(ctx context.Context, taskID string, amount fieldwork.Money) (FundingReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("fund"); err != nil {
		return FundingReceipt{}, err
	}
	if amount.Amount <= 0 {
		return FundingReceipt{}, fmt.Errorf("%w: non-positive amount", fieldwork.ErrProviderRejected)
	}
	ref := "mock-esc-" + taskID
	if _, ok := m.funded[ref]; !ok {
		m.funded[ref] = !m.async
	}
	return FundingReceipt{Reference: ref, Confirmed: m.funded[ref]}, nil
}

func (m *MockEscrowProvider) FundingConfirmed(ctx context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("funding_status"); err != nil {
		return false, err
	}
	confirmed, ok := m.funded[reference]
	if !ok {
		return false, fmt.Errorf("%w: unknown escrow %s", fieldwork.ErrProviderRejected, reference)
	}
	if !confirmed {
		m.funded[reference] = true
	}
	return confirmed, nil
}

func (m *MockEscrowProvider) Lock(ctx context.Context, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("lock"); err != nil {
		return err
	}
	if !m.funded[reference] {
		return fmt.Errorf("%w: escrow %s not funded", fieldwork.ErrProviderRejected, reference)
	}
	m.locked[reference] = true
	return nil
}

func (m *MockEscrowProvider) settle(op, reference string, line fieldwork.SettlementLine) (LineReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(op); err != nil {
		return LineReceipt{}, err
	}
	if _, ok := m.funded[reference]; !ok {
		return LineReceipt{}, fmt.Errorf("%w: unknown escrow %s", fieldwork.ErrProviderRejected, reference)
	}
	l, ok := m.lines[line.IdempotencyKey]
	if !ok {
		l = &mockLine{line: line}
		m.lines[line.IdempotencyKey] = l
	}
	l.polls++
	if !l.done && (!m.async || l.polls > 1) {
		l.done = true
		m.paid[l.line.To] += l.line.Amount
	}
	return LineReceipt{Reference: "mock-tx-" + line.IdempotencyKey, Confirmed: l.done}, nil
}

func (m *MockEscrowProvider) Release(ctx context.Context, reference string, line fieldwork.SettlementLine) (LineReceipt, error) {
	return m.settle("release", reference, line)
}

func (m *MockEscrowProvider) Refund(ctx context.Context, reference string, line fieldwork.SettlementLine) (LineReceipt, error) {
	return m.settle("refund", reference, line)
}
