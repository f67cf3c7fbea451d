// File: api/schemas/tasks.go
package schemas

import (
	"encoding/json"
	"time"
)

// TaskType identifies the production step a task performs.
type TaskType string

const (
	TaskContentGeneration TaskType = "content_generation"
	TaskVideoCreation     TaskType = "video_creation"
	TaskComplianceCheck   TaskType = "compliance_check"
	TaskPublishing        TaskType = "publishing"
	TaskOptimization      TaskType = "optimization"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending          TaskStatus = "pending"
	TaskProcessing       TaskStatus = "processing"
	TaskCompleted        TaskStatus = "completed"
	TaskFailed           TaskStatus = "failed"
	TaskRequiresApproval TaskStatus = "requires_approval"
)

// Terminal reports whether a task in this status will never run again.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskPriority orders dispatch within a scheduler tick.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// priorityRank maps priorities to dispatch order; lower rank runs first.
var priorityRank = map[TaskPriority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the numeric dispatch rank for a priority. Unknown priorities
// sort after every known one.
func (p TaskPriority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Task is a unit of production work tracked by the orchestrator. A task is
// eligible for dispatch only when every id in Dependencies has status
// "completed".
type Task struct {
	ID       string       `json:"id"`
	Type     TaskType     `json:"type"`
	Status   TaskStatus   `json:"status"`
	Priority TaskPriority `json:"priority"`

	StreamKey string          `json:"stream_key"`
	ArmID     string          `json:"arm_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`

	EstimatedCost   float64 `json:"estimated_cost"`
	ExpectedRevenue float64 `json:"expected_revenue"`

	// ApprovalRequestID links a suspended task to the external approval
	// request that will resume or fail it.
	ApprovalRequestID string `json:"approval_request_id,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// TaskResult carries the outcome of a task execution back to the scheduler.
type TaskResult struct {
	// Revenue/Spend/Clicks/Conversions are fed back into the arm registry
	// when the task is linked to an arm.
	Revenue     float64
	Spend       float64
	Clicks      int64
	Conversions int64

	// RequiresApproval suspends the task instead of completing it;
	// ApprovalRequestID identifies the external request that resolves it.
	RequiresApproval  bool
	ApprovalRequestID string

	// Next holds follow-up tasks to enqueue, each depending on this one.
	Next []TaskSpec

	// Output is an optional payload describing what the task produced.
	Output json.RawMessage
}

// TaskSpec describes a task to create. Dependencies may reference existing
// task ids; the orchestrator rejects unknown references and dependency cycles.
type TaskSpec struct {
	Type            TaskType        `json:"type"`
	Priority        TaskPriority    `json:"priority"`
	StreamKey       string          `json:"stream_key"`
	ArmID           string          `json:"arm_id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty"`
	EstimatedCost   float64         `json:"estimated_cost"`
	ExpectedRevenue float64         `json:"expected_revenue"`
}
