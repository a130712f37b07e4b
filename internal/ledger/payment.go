package ledger

import (
	"context"
	"fmt"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/guard"
	"github.com/finpilot/orchestrator/internal/store"
)

// PaymentLedger is the append-only record of signed transaction requests.
// Creation is gated on a prior PASS compliance event at this boundary, not
// only in the orchestrator, so no code path can bypass the gate.
type PaymentLedger struct {
	store      store.Store
	guard      *guard.Guard
	compliance *ComplianceLedger
	maxRetries int
}

// NewPaymentLedger creates a payment request ledger.
func NewPaymentLedger(st store.Store, g *guard.Guard, compliance *ComplianceLedger, maxRetries int) *PaymentLedger {
	return &PaymentLedger{store: st, guard: g, compliance: compliance, maxRetries: maxRetries}
}

// RequestInput carries the caller-supplied fields of a new payment request.
type RequestInput struct {
	ProjectID           string
	AgentID             string
	RunID               string
	TaskID              string
	RequestType         string
	Amount              string
	Currency            string
	RequestPayload      map[string]any
	LinkedMemoryIDs     []string
	LinkedComplianceIDs []string
	Metadata            map[string]string
}

// CreateRequest appends the initial PENDING snapshot of a payment request.
// It fails with ComplianceNotApproved unless a PASS compliance event already
// exists for the run.
func (l *PaymentLedger) CreateRequest(ctx context.Context, in RequestInput) (*domain.PaymentRequest, error) {
	pass, err := l.compliance.PassEvent(ctx, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to check compliance gate: %w", err)
	}
	now := domain.Now()
	// The PASS determination must precede the request; a same-millisecond
	// event counts as preceding.
	if pass == nil || pass.Timestamp.After(now) {
		return nil, fmt.Errorf("run %s: %w", in.RunID, domain.ErrComplianceNotApproved)
	}

	if err := l.guard.Authorize(ctx, domain.OpAppend, domain.FamilyPaymentRequest); err != nil {
		return nil, err
	}

	request := &domain.PaymentRequest{
		RequestID:           domain.NewRequestID(),
		ProjectID:           in.ProjectID,
		RunID:               in.RunID,
		AgentID:             in.AgentID,
		TaskID:              in.TaskID,
		RequestType:         in.RequestType,
		Amount:              in.Amount,
		Currency:            in.Currency,
		Status:              domain.PaymentStatusPending,
		RequestPayload:      in.RequestPayload,
		LinkedMemoryIDs:     in.LinkedMemoryIDs,
		LinkedComplianceIDs: in.LinkedComplianceIDs,
		Metadata:            in.Metadata,
		Timestamp:           now,
	}

	err = appendWithRetry(ctx, l.maxRetries, func() error {
		return l.store.CreatePaymentRequest(ctx, request)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// RecordStatus appends a new snapshot of the request with the given
// lifecycle status. Transitions are forward-only from PENDING; the prior
// snapshot is never edited.
func (l *PaymentLedger) RecordStatus(ctx context.Context, requestID string, status domain.PaymentStatus, responsePayload map[string]any) (*domain.PaymentRequest, error) {
	current, err := l.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.PaymentStatusPending {
		return nil, fmt.Errorf("request %s is already %s; status is forward-only", requestID, current.Status)
	}
	if status != domain.PaymentStatusCompleted && status != domain.PaymentStatusFailed {
		return nil, fmt.Errorf("invalid status transition %s -> %s", current.Status, status)
	}

	if err := l.guard.Authorize(ctx, domain.OpAppend, domain.FamilyPaymentRequest); err != nil {
		return nil, err
	}

	snapshot := *current
	snapshot.Status = status
	snapshot.ResponsePayload = responsePayload
	snapshot.Timestamp = domain.Now()
	snapshot.Seq = 0

	err = appendWithRetry(ctx, l.maxRetries, func() error {
		return l.store.CreatePaymentRequest(ctx, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetRequest returns the current (latest) snapshot for a request id.
func (l *PaymentLedger) GetRequest(ctx context.Context, requestID string) (*domain.PaymentRequest, error) {
	if err := l.guard.Authorize(ctx, domain.OpRead, domain.FamilyPaymentRequest); err != nil {
		return nil, err
	}
	request, err := l.store.GetPaymentRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}
	if request == nil {
		return nil, fmt.Errorf("request %s: %w", requestID, domain.ErrRequestNotFound)
	}
	return request, nil
}

// ListRequests returns a run's payment request snapshots in chronological
// order.
func (l *PaymentLedger) ListRequests(ctx context.Context, runID string) ([]domain.PaymentRequest, error) {
	if err := l.guard.Authorize(ctx, domain.OpRead, domain.FamilyPaymentRequest); err != nil {
		return nil, err
	}
	return l.store.ListPaymentRequests(ctx, runID)
}

// Update is the in-place mutation entry point, rejected by the guard.
// Status changes go through RecordStatus, which appends.
func (l *PaymentLedger) Update(ctx context.Context, requestID string) error {
	return l.guard.Authorize(ctx, domain.OpMutate, domain.FamilyPaymentRequest)
}

// Delete is the deletion entry point, rejected by the guard.
func (l *PaymentLedger) Delete(ctx context.Context, requestID string) error {
	return l.guard.Authorize(ctx, domain.OpMutate, domain.FamilyPaymentRequest)
}
