// File: internal/funnel/compliance.go
// Description: Rule-based compliance screening. Content with banned claims is
// flagged before publication; mechanical violations are rewritten in place,
// anything else escalates to a human.

package funnel

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

// bannedPhrases maps a prohibited claim to its safe replacement. An empty
// replacement means the phrase cannot be fixed mechanically.
var bannedPhrases = map[string]string{
	"guaranteed results": "great results for many users",
	"risk-free":          "low commitment",
	"miracle":            "impressive",
	"100% effective":     "highly rated",
	"cures":              "",
	"medical grade":      "",
}

// RuleChecker screens scripts against the banned phrase list.
type RuleChecker struct {
	logger *zap.Logger
}

// NewRuleChecker builds a checker over the built-in rule set.
func NewRuleChecker(logger *zap.Logger) *RuleChecker {
	return &RuleChecker{logger: logger.With(zap.String("component", "rule_checker"))}
}

func scanViolations(content string) (violations []string, fixable bool) {
	lower := strings.ToLower(content)
	fixable = true
	for phrase, replacement := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			violations = append(violations, phrase)
			if replacement == "" {
				fixable = false
			}
		}
	}
	return violations, fixable
}

func severityFor(violations []string) string {
	switch {
	case len(violations) == 0:
		return "none"
	case len(violations) == 1:
		return "medium"
	default:
		return "high"
	}
}

// Check reports whether the content may be published as-is.
func (c *RuleChecker) Check(ctx context.Context, content string) (*schemas.ComplianceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	violations, _ := scanViolations(content)
	result := &schemas.ComplianceResult{
		IsCompliant: len(violations) == 0,
		Severity:    severityFor(violations),
		Violations:  violations,
		Content:     content,
	}
	if !result.IsCompliant {
		c.logger.Warn("Compliance violations found",
			zap.Strings("violations", violations),
			zap.String("severity", result.Severity),
		)
	}
	return result, nil
}

// AutoFix replaces every fixable banned phrase with its safe variant. If any
// violation has no mechanical fix the result stays non-compliant and carries
// the partially rewritten content.
func (c *RuleChecker) AutoFix(ctx context.Context, content string) (*schemas.ComplianceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fixed := content
	for phrase, replacement := range bannedPhrases {
		if replacement == "" {
			continue
		}
		fixed = replaceFold(fixed, phrase, replacement)
	}

	violations, _ := scanViolations(fixed)
	return &schemas.ComplianceResult{
		IsCompliant: len(violations) == 0,
		Severity:    severityFor(violations),
		Violations:  violations,
		Content:     fixed,
	}, nil
}

// replaceFold replaces every case-insensitive occurrence of old with new.
func replaceFold(s, old, new string) string {
	var b strings.Builder
	lower := strings.ToLower(s)
	oldLower := strings.ToLower(old)
	for {
		i := strings.Index(lower, oldLower)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s = s[i+len(old):]
		lower = lower[i+len(oldLower):]
	}
}
