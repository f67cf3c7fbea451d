// File: internal/funnel/approvals.go
// Description: In-memory approval gateway. Requests queue here until an
// operator resolves them; resolution is forwarded to whoever registered for
// the outcome, typically the orchestrator.

package funnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

// PendingApproval is a stored request awaiting an operator.
type PendingApproval struct {
	ID         string                  `json:"id"`
	Request    schemas.ApprovalRequest `json:"request"`
	Status     string                  `json:"status"`
	ResolvedBy string                  `json:"resolved_by,omitempty"`
	Comments   string                  `json:"comments,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	ResolvedAt time.Time               `json:"resolved_at,omitempty"`
}

// ResolveFunc is notified after a request is approved or rejected.
type ResolveFunc func(requestID string, approved bool)

// InMemoryGateway queues approval requests for human review.
type InMemoryGateway struct {
	logger *zap.Logger

	mu        sync.Mutex
	requests  map[string]*PendingApproval
	onResolve ResolveFunc
}

// NewInMemoryGateway builds an empty gateway.
func NewInMemoryGateway(logger *zap.Logger) *InMemoryGateway {
	return &InMemoryGateway{
		logger:   logger.With(zap.String("component", "approval_gateway")),
		requests: make(map[string]*PendingApproval),
	}
}

// SetResolver registers the callback invoked after each resolution.
func (g *InMemoryGateway) SetResolver(fn ResolveFunc) {
	g.mu.Lock()
	g.onResolve = fn
	g.mu.Unlock()
}

// CreateRequest stores a new pending request and returns its id.
func (g *InMemoryGateway) CreateRequest(ctx context.Context, req schemas.ApprovalRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pending := &PendingApproval{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}

	g.mu.Lock()
	g.requests[pending.ID] = pending
	g.mu.Unlock()

	g.logger.Info("Approval requested",
		zap.String("request_id", pending.ID),
		zap.String("type", req.Type),
		zap.String("title", req.Title),
	)
	return pending.ID, nil
}

// Approve resolves a pending request in favor of the action.
func (g *InMemoryGateway) Approve(ctx context.Context, requestID, approver, comments string) error {
	return g.resolve(ctx, requestID, approver, comments, true)
}

// Reject resolves a pending request against the action.
func (g *InMemoryGateway) Reject(ctx context.Context, requestID, approver, comments string) error {
	return g.resolve(ctx, requestID, approver, comments, false)
}

func (g *InMemoryGateway) resolve(ctx context.Context, requestID, approver, comments string, approved bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	req, ok := g.requests[requestID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("approval request %q: %w", requestID, schemas.ErrNotFound)
	}
	if req.Status != "pending" {
		g.mu.Unlock()
		return fmt.Errorf("approval request %s is %s, want pending: %w", requestID, req.Status, schemas.ErrInvalidState)
	}

	if approved {
		req.Status = "approved"
	} else {
		req.Status = "rejected"
	}
	req.ResolvedBy = approver
	req.Comments = comments
	req.ResolvedAt = time.Now().UTC()
	callback := g.onResolve
	g.mu.Unlock()

	g.logger.Info("Approval resolved",
		zap.String("request_id", requestID),
		zap.String("approver", approver),
		zap.Bool("approved", approved),
	)
	if callback != nil {
		callback(requestID, approved)
	}
	return nil
}

// Get returns a copy of a request by id.
func (g *InMemoryGateway) Get(requestID string) (PendingApproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[requestID]
	if !ok {
		return PendingApproval{}, fmt.Errorf("approval request %q: %w", requestID, schemas.ErrNotFound)
	}
	return *req, nil
}

// Pending returns copies of all unresolved requests.
func (g *InMemoryGateway) Pending() []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []PendingApproval
	for _, req := range g.requests {
		if req.Status == "pending" {
			out = append(out, *req)
		}
	}
	return out
}
