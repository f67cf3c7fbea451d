// File: internal/orchestrator/executors.go
// Description: Task executors for each production funnel stage. Each stage
// does its own work through an injected collaborator and returns the
// follow-up specs that extend the funnel: content -> video -> compliance ->
// publishing, with optimization running on its own cadence.

package orchestrator

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ArmDirectory is the registry surface the executors read and reshape.
type ArmDirectory interface {
	Get(armID string) (schemas.Arm, error)
	Rebalance()
	Prune() []string
}

// PromotionPlanner picks the arms worth promoting this cycle.
type PromotionPlanner interface {
	SelectArms(count int) []schemas.Arm
}

// SpendEvaluator proposes promotion spend to the governor.
type SpendEvaluator interface {
	Evaluate(armID string, proposedSpend, expectedRevenue float64, platform string) (schemas.SpendDecision, error)
}

// funnelPayload is the artifact handed from one funnel stage to the next.
type funnelPayload struct {
	Title        string `json:"title,omitempty"`
	Script       string `json:"script,omitempty"`
	Platform     string `json:"platform"`
	HookType     string `json:"hook_type,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	ContentID    string `json:"content_id,omitempty"`
}

func decodePayload(task schemas.Task) (funnelPayload, error) {
	var p funnelPayload
	if len(task.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return p, fmt.Errorf("decoding payload for task %s: %w", task.ID, err)
	}
	return p, nil
}

func encodePayload(p funnelPayload) []byte {
	out, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return out
}

// Executors bundles the funnel collaborators and exposes one Executor per
// task type.
type Executors struct {
	generator schemas.ContentGenerator
	renderer  schemas.VideoRenderer
	checker   schemas.ComplianceChecker
	publisher schemas.Publisher
	approvals schemas.ApprovalGateway

	arms    ArmDirectory
	planner PromotionPlanner
	spend   SpendEvaluator

	logger *zap.Logger

	// promoteCount and perArmBudget shape the periodic optimization pass.
	promoteCount int
	perArmBudget float64
}

// NewExecutors wires the funnel stages. promoteCount arms receive a
// perArmBudget spend proposal on every optimization pass.
func NewExecutors(
	generator schemas.ContentGenerator,
	renderer schemas.VideoRenderer,
	checker schemas.ComplianceChecker,
	publisher schemas.Publisher,
	approvals schemas.ApprovalGateway,
	arms ArmDirectory,
	planner PromotionPlanner,
	spend SpendEvaluator,
	logger *zap.Logger,
	promoteCount int,
	perArmBudget float64,
) *Executors {
	return &Executors{
		generator:    generator,
		renderer:     renderer,
		checker:      checker,
		publisher:    publisher,
		approvals:    approvals,
		arms:         arms,
		planner:      planner,
		spend:        spend,
		logger:       logger.With(zap.String("component", "executors")),
		promoteCount: promoteCount,
		perArmBudget: perArmBudget,
	}
}

type executorFunc func(ctx context.Context, task schemas.Task) (schemas.TaskResult, error)

func (f executorFunc) Execute(ctx context.Context, task schemas.Task) (schemas.TaskResult, error) {
	return f(ctx, task)
}

// Map returns the dispatch table keyed by task type.
func (e *Executors) Map() map[schemas.TaskType]Executor {
	return map[schemas.TaskType]Executor{
		schemas.TaskContentGeneration: executorFunc(e.generateContent),
		schemas.TaskVideoCreation:     executorFunc(e.createVideo),
		schemas.TaskComplianceCheck:   executorFunc(e.checkCompliance),
		schemas.TaskPublishing:        executorFunc(e.publish),
		schemas.TaskOptimization:      executorFunc(e.optimize),
	}
}

// generateContent produces a script for the task's arm and queues the video
// render behind it.
func (e *Executors) generateContent(ctx context.Context, task schemas.Task) (schemas.TaskResult, error) {
	arm, err := e.arms.Get(task.ArmID)
	if err != nil {
		return schemas.TaskResult{}, fmt.Errorf("resolving arm for content task: %w", err)
	}

	content, err := e.generator.Generate(ctx, arm.StreamKey, arm.Platform, arm.HookType)
	if err != nil {
		return schemas.TaskResult{}, schemas.NewCollaboratorError("content_generator", err)
	}

	next := funnelPayload{
		Title:    content.Title,
		Script:   content.Script,
		Platform: arm.Platform,
		HookType: arm.HookType,
	}
	return schemas.TaskResult{
		Output: encodePayload(next),
		Next: []schemas.TaskSpec{{
			Type:     schemas.TaskVideoCreation,
			Priority: task.Priority,
			Payload:  encodePayload(next),
		}},
	}, nil
}

// createVideo renders the script and queues the compliance check.
func (e *Executors) createVideo(ctx context.Context, task schemas.Task) (schemas.TaskResult, error) {
	p, err := decodePayload(task)
	if err != nil {
		return schemas.TaskResult{}, err
	}
	if p.Script == "" {
		return schemas.TaskResult{}, fmt.Errorf("video task %s has no script: %w", task.ID, schemas.ErrInvalidState)
	}

	video, err := e.renderer.Render(ctx, p.Script, p.Platform)
	if err != nil {
		return schemas.TaskResult{}, schemas.NewCollaboratorError("video_renderer", err)
	}

	p.VideoURL = video.VideoURL
	p.ThumbnailURL = video.ThumbnailURL
	return schemas.TaskResult{
		Output: encodePayload(p),
		Next: []schemas.TaskSpec{{
			Type:     schemas.TaskComplianceCheck,
			Priority: task.Priority,
			Payload:  encodePayload(p),
		}},
	}, nil
}

// checkCompliance screens the script before publication. Mechanical
// violations are auto-fixed; anything that survives the fix is routed to a
// human through the approval gateway. A task resumed after approval carries
// its approval id and skips the gate.
func (e *Executors) checkCompliance(ctx context.Context, task schemas.Task) (schemas.TaskResult, error) {
	p, err := decodePayload(task)
	if err != nil {
		return schemas.TaskResult{}, err
	}

	if task.ApprovalRequestID == "" {
		result, err := e.checker.Check(ctx, p.Script)
		if err != nil {
			return schemas.TaskResult{}, schemas.NewCollaboratorError("compliance_checker", err)
		}

		if !result.IsCompliant {
			fixed, err := e.checker.AutoFix(ctx, p.Script)
			if err != nil {
				return schemas.TaskResult{}, schemas.NewCollaboratorError("compliance_checker", err)
			}
			if fixed.IsCompliant {
				p.Script = fixed.Content
			} else {
				requestID, err := e.approvals.CreateRequest(ctx, schemas.ApprovalRequest{
					Type:        "compliance_override",
					Title:       "Compliance violations need review: " + p.Title,
					Description: fmt.Sprintf("%d violation(s), severity %s", len(fixed.Violations), fixed.Severity),
					Context:     p.Script,
					RiskSummary: fixed.Severity,
				})
				if err != nil {
					return schemas.TaskResult{}, schemas.NewCollaboratorError("approval_gateway", err)
				}
				return schemas.TaskResult{
					RequiresApproval:  true,
					ApprovalRequestID: requestID,
				}, nil
			}
		}
	}

	return schemas.TaskResult{
		Output: encodePayload(p),
		Next: []schemas.TaskSpec{{
			Type:     schemas.TaskPublishing,
			Priority: task.Priority,
			Payload:  encodePayload(p),
		}},
	}, nil
}

// publish pushes the finished content to its platform.
func (e *Executors) publish(ctx context.Context, task schemas.Task) (schemas.TaskResult, error) {
	p, err := decodePayload(task)
	if err != nil {
		return schemas.TaskResult{}, err
	}
	if p.Script == "" {
		return schemas.TaskResult{}, fmt.Errorf("publish task %s has no content: %w", task.ID, schemas.ErrInvalidState)
	}

	result, err := e.publisher.Publish(ctx, p.Script, p.Platform)
	if err != nil {
		return schemas.TaskResult{}, schemas.NewCollaboratorError("publisher", err)
	}

	e.logger.Info("Content published",
		zap.String("task_id", task.ID),
		zap.String("platform", p.Platform),
		zap.String("content_id", result.ContentID),
	)

	p.ContentID = result.ContentID
	return schemas.TaskResult{Output: encodePayload(p)}, nil
}

// optimize runs one optimization pass: propose promotion spend for the
// arms the planner selects, then rebalance allocations and prune sustained
// losers. Spend proposals the governor refuses are logged and skipped, never
// retried.
func (e *Executors) optimize(ctx context.Context, task schemas.Task) (schemas.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return schemas.TaskResult{}, err
	}

	proposed, executed := 0, 0
	for _, arm := range e.planner.SelectArms(e.promoteCount) {
		expected := e.perArmBudget * projectedROI(arm)
		decision, err := e.spend.Evaluate(arm.ID, e.perArmBudget, expected, arm.Platform)
		if err != nil {
			e.logger.Warn("Promotion proposal refused",
				zap.String("arm_id", arm.ID),
				zap.Error(err),
			)
			continue
		}
		proposed++
		if decision.Status == schemas.DecisionExecuted {
			executed++
		}
	}

	e.arms.Rebalance()
	pruned := e.arms.Prune()

	e.logger.Info("Optimization pass finished",
		zap.Int("proposed", proposed),
		zap.Int("executed", executed),
		zap.Int("pruned", len(pruned)),
	)

	summary, err := json.Marshal(map[string]any{
		"proposed": proposed,
		"executed": executed,
		"pruned":   pruned,
	})
	if err != nil {
		return schemas.TaskResult{}, err
	}
	return schemas.TaskResult{Output: summary}, nil
}

// projectedROI estimates return on the next unit of spend from an arm's
// history. Arms with no spend yet get a conservative default so they can
// still clear the governor's automatic threshold once proven.
func projectedROI(arm schemas.Arm) float64 {
	if arm.Spend > 0 {
		return arm.Revenue / arm.Spend
	}
	return 1.5
}
