// File: internal/funnel/generator.go
// Description: Local content generator and video renderer. These stand in for
// the hosted generation services in development and tests; production swaps
// real clients in through the same interfaces.

package funnel

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

// hookTemplates maps a hook type to the opening lines it can produce.
var hookTemplates = map[string][]string{
	"curiosity":    {"You won't believe what %s can do", "The %s trick nobody talks about"},
	"fear":         {"Stop using %s wrong before it costs you", "The %s mistake everyone makes"},
	"desire":       {"How %s changed my mornings", "The %s upgrade you deserve"},
	"social_proof": {"Why everyone is switching to %s", "10k people tried %s, here is what happened"},
}

// TemplateGenerator produces scripts from canned hook templates. Output is
// deterministic for a given seed.
type TemplateGenerator struct {
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTemplateGenerator builds a generator seeded for reproducible output.
func NewTemplateGenerator(logger *zap.Logger, seed int64) *TemplateGenerator {
	return &TemplateGenerator{
		logger: logger.With(zap.String("component", "template_generator")),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Generate renders a script for the stream on the given platform.
func (g *TemplateGenerator) Generate(ctx context.Context, streamKey, platform, hookType string) (*schemas.GeneratedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	templates, ok := hookTemplates[hookType]
	if !ok {
		return nil, fmt.Errorf("unknown hook type %q: %w", hookType, schemas.ErrInvalidState)
	}

	g.mu.Lock()
	title := fmt.Sprintf(templates[g.rng.Intn(len(templates))], strings.ReplaceAll(streamKey, "_", " "))
	engagement := 0.2 + g.rng.Float64()*0.6
	g.mu.Unlock()

	script := fmt.Sprintf("%s.\nHere is the 30 second breakdown for %s.\nFollow for daily %s picks.",
		title, platform, strings.ReplaceAll(streamKey, "_", " "))

	g.logger.Debug("Content generated",
		zap.String("stream_key", streamKey),
		zap.String("hook_type", hookType),
	)
	return &schemas.GeneratedContent{
		Title:               title,
		Script:              script,
		EstimatedEngagement: engagement,
	}, nil
}

// StubRenderer fabricates asset URLs for a rendered video without doing any
// actual rendering work.
type StubRenderer struct {
	logger  *zap.Logger
	baseURL string
}

// NewStubRenderer builds a renderer that hosts its fake assets under baseURL.
func NewStubRenderer(logger *zap.Logger, baseURL string) *StubRenderer {
	return &StubRenderer{
		logger:  logger.With(zap.String("component", "stub_renderer")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Render produces asset URLs for the script on the given platform.
func (r *StubRenderer) Render(ctx context.Context, script, platform string) (*schemas.RenderedVideo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("cannot render an empty script: %w", schemas.ErrInvalidState)
	}

	id := uuid.New().String()
	r.logger.Debug("Video rendered", zap.String("platform", platform), zap.String("video_id", id))
	return &schemas.RenderedVideo{
		Status:       "rendered",
		VideoURL:     fmt.Sprintf("%s/%s/%s.mp4", r.baseURL, platform, id),
		ThumbnailURL: fmt.Sprintf("%s/%s/%s.jpg", r.baseURL, platform, id),
	}, nil
}
