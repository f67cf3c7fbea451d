// File: api/schemas/spend.go
package schemas

import "time"

// DecisionType classifies how a spend proposal may proceed.
type DecisionType string

const (
	DecisionAutomatic        DecisionType = "automatic"
	DecisionRequiresApproval DecisionType = "requires_approval"
	DecisionEmergencyStop    DecisionType = "emergency_stop"
)

// RiskLevel is the computed risk classification of a spend proposal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DecisionStatus is the lifecycle state of a spend decision.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
	DecisionExecuted DecisionStatus = "executed"
)

// SystemApprover marks decisions that were approved by the governor itself
// rather than a human operator.
const SystemApprover = "system_auto"

// SpendDecision is the governor's risk-classified verdict on a single
// promotion spend proposal.
type SpendDecision struct {
	ID               string         `json:"id"`
	Type             DecisionType   `json:"type"`
	Amount           float64        `json:"amount"`
	ArmID            string         `json:"arm_id"`
	Platform         string         `json:"platform"`
	Risk             RiskLevel      `json:"risk"`
	ExpectedROI      float64        `json:"expected_roi"`
	ApprovalRequired bool           `json:"approval_required"`
	Status           DecisionStatus `json:"status"`
	ApprovedBy       string         `json:"approved_by,omitempty"`
	Reason           string         `json:"reason,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at"`
	ExecutedAt time.Time `json:"executed_at"`
}

// BudgetStatus is a point-in-time snapshot of the governor's daily budget.
type BudgetStatus struct {
	DailyBudget      float64   `json:"daily_budget"`
	SpentToday       float64   `json:"spent_today"`
	Remaining        float64   `json:"remaining"`
	PendingDecisions int       `json:"pending_decisions"`
	EmergencyStopped bool      `json:"emergency_stopped"`
	StopReason       string    `json:"stop_reason,omitempty"`
	LastReset        time.Time `json:"last_reset"`
}
