package settlement

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockBackend is an in-memory Backend for tests and local development. It
// records every submission keyed by idempotency key and lets tests script
// rejections, transient failures, and external status per reference.
type MockBackend struct {
	mu sync.Mutex

	submissions map[string]*Receipt       // idempotency key -> receipt
	statuses    map[string]ExternalStatus // external ref -> status

	SubmitCount int

	// RejectReason, when set, makes every submit fail permanently.
	RejectReason string
	// FailuresBeforeAccept makes the next N submits fail transiently.
	FailuresBeforeAccept int
	// AckLost makes transient failures still record the submission, as if
	// the backend accepted it but the acknowledgement never arrived.
	AckLost bool

	Contributions []ContributionRequest
	Claims        []ClaimRequest
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		submissions: make(map[string]*Receipt),
		statuses:    make(map[string]ExternalStatus),
	}
}

func (m *MockBackend) SubmitContribution(ctx context.Context, req ContributionRequest) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Contributions = append(m.Contributions, req)
	return m.submitLocked(req.IdempotencyKey)
}

func (m *MockBackend) SubmitPrizeClaim(ctx context.Context, req ClaimRequest) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Claims = append(m.Claims, req)
	return m.submitLocked(req.IdempotencyKey)
}

func (m *MockBackend) submitLocked(key string) (*Receipt, error) {
	m.SubmitCount++

	if m.RejectReason != "" {
		return nil, &RejectedError{Reason: m.RejectReason}
	}
	if m.FailuresBeforeAccept > 0 {
		m.FailuresBeforeAccept--
		if m.AckLost {
			m.recordLocked(key)
		}
		return nil, &TimeoutError{Op: "mock submit", Err: context.DeadlineExceeded}
	}
	return m.recordLocked(key), nil
}

func (m *MockBackend) recordLocked(key string) *Receipt {
	if existing, ok := m.submissions[key]; ok {
		return existing
	}
	receipt := &Receipt{ExternalRef: "mock-" + uuid.NewString(), Accepted: true}
	m.submissions[key] = receipt
	m.statuses[receipt.ExternalRef] = StatusPendingExternal
	return receipt
}

func (m *MockBackend) QueryStatus(ctx context.Context, externalRef string) (ExternalStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[externalRef]; ok {
		return status, nil
	}
	return StatusNotFound, nil
}

func (m *MockBackend) LookupByIdempotencyKey(ctx context.Context, key string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if receipt, ok := m.submissions[key]; ok {
		return receipt, nil
	}
	return nil, ErrNoSubmission
}

// SeedSubmission records a submission for a key without counting a submit,
// as a prior process would have left it. Returns the external ref.
func (m *MockBackend) SeedSubmission(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(key).ExternalRef
}

// SetStatus scripts the external status reported for a reference.
func (m *MockBackend) SetStatus(externalRef string, status ExternalStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[externalRef] = status
}

// RefForKey returns the external ref recorded for an idempotency key.
func (m *MockBackend) RefForKey(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if receipt, ok := m.submissions[key]; ok {
		return receipt.ExternalRef
	}
	return ""
}
