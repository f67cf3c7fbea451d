// File: api/schemas/interfaces.go
// Description: Contracts for the external collaborators consumed by the core.
// Implementations are owned elsewhere; the core only depends on these
// interfaces so tests can swap in fakes.

package schemas

import "context"

// GeneratedContent is the output of a content generation call.
type GeneratedContent struct {
	Title               string  `json:"title"`
	Script              string  `json:"script"`
	EstimatedEngagement float64 `json:"estimated_engagement"`
}

// ContentGenerator produces a content variant for an arm combination.
// Failures are caught and logged by the owning task and never retried
// automatically.
type ContentGenerator interface {
	Generate(ctx context.Context, streamKey, platform, hookType string) (*GeneratedContent, error)
}

// RenderedVideo is the output of a render call.
type RenderedVideo struct {
	Status       string `json:"status"`
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// VideoRenderer turns a script into a platform-shaped video.
type VideoRenderer interface {
	Render(ctx context.Context, script, platform string) (*RenderedVideo, error)
}

// ComplianceResult reports whether content may be published as-is.
type ComplianceResult struct {
	IsCompliant bool     `json:"is_compliant"`
	Severity    string   `json:"severity"`
	Violations  []string `json:"violations,omitempty"`
	Content     string   `json:"content,omitempty"`
}

// ComplianceChecker screens content before publication. AutoFix returns a
// rewritten variant when the violations are mechanical.
type ComplianceChecker interface {
	Check(ctx context.Context, content string) (*ComplianceResult, error)
	AutoFix(ctx context.Context, content string) (*ComplianceResult, error)
}

// PublishResult identifies published content on the target platform.
type PublishResult struct {
	ContentID string `json:"content_id"`
}

// Publisher pushes finished content to a platform.
type Publisher interface {
	Publish(ctx context.Context, content, platform string) (*PublishResult, error)
}

// ApprovalRequest captures the human-facing context of a pending approval.
type ApprovalRequest struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
	RiskSummary string `json:"risk_summary,omitempty"`
}

// ApprovalGateway routes risky decisions to a human. CreateRequest returns
// the id an operator later approves or rejects.
type ApprovalGateway interface {
	CreateRequest(ctx context.Context, req ApprovalRequest) (string, error)
	Approve(ctx context.Context, requestID, approver, comments string) error
	Reject(ctx context.Context, requestID, approver, comments string) error
}

// LogSink is the append-only operation log used by every component for
// observability. The core never reads it back.
type LogSink interface {
	Record(entryType, message, status string, metadata map[string]any)
}
