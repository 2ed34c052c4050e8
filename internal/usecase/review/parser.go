package review

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/openreview/openreview/internal/domain"
)

var fencedBlockPattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

type modelReview struct {
	Summary  string            `json:"summary"`
	Findings []json.RawMessage `json:"findings"`
}

type modelFinding struct {
	Type        string          `json:"type"`
	Severity    string          `json:"severity"`
	File        string          `json:"file"`
	Line        json.RawMessage `json:"line"`
	Code        string          `json:"code"`
	Message     string          `json:"message"`
	Explanation string          `json:"explanation"`
	Suggestion  string          `json:"suggestion"`
	Resources   []string        `json:"resources"`
}

// ParseModelOutput extracts the summary and findings from raw model
// output. The model is asked for a fenced JSON block; if no fence is
// present the whole text is tried as JSON, and if that fails too the
// text becomes the summary with no findings.
//
// Findings are decoded one by one: a record that fails to decode or
// validate is logged and skipped, never fatal to the review.
func ParseModelOutput(ctx context.Context, text string, logger Logger) (string, []domain.Finding) {
	jsonText := strings.TrimSpace(text)
	if matches := fencedBlockPattern.FindStringSubmatch(text); len(matches) > 1 {
		jsonText = strings.TrimSpace(matches[1])
	}

	var parsed modelReview
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		if logger != nil {
			logger.LogWarning(ctx, "model output is not structured, using raw text as summary", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return strings.TrimSpace(text), nil
	}

	var findings []domain.Finding
	for i, raw := range parsed.Findings {
		finding, err := decodeFinding(raw)
		if err != nil {
			if logger != nil {
				logger.LogWarning(ctx, "skipping malformed finding", map[string]interface{}{
					"index": i,
					"error": err.Error(),
				})
			}
			continue
		}
		findings = append(findings, finding)
	}

	return parsed.Summary, findings
}

func decodeFinding(raw json.RawMessage) (domain.Finding, error) {
	var mf modelFinding
	if err := json.Unmarshal(raw, &mf); err != nil {
		return domain.Finding{}, err
	}

	if mf.File == "" {
		return domain.Finding{}, fmt.Errorf("finding missing file")
	}
	if mf.Message == "" {
		return domain.Finding{}, fmt.Errorf("finding missing message")
	}

	return domain.Finding{
		Type:        normalizeType(mf.Type),
		Severity:    normalizeSeverity(mf.Severity),
		File:        mf.File,
		Line:        decodeLine(mf.Line),
		Code:        mf.Code,
		Message:     mf.Message,
		Explanation: mf.Explanation,
		Suggestion:  mf.Suggestion,
		Resources:   mf.Resources,
	}, nil
}

// decodeLine accepts the line reference as either a JSON string or a
// number; models are not consistent about which they emit.
func decodeLine(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func normalizeType(s string) domain.FindingType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "style":
		return domain.FindingStyle
	case "bug":
		return domain.FindingBug
	case "security":
		return domain.FindingSecurity
	case "performance":
		return domain.FindingPerformance
	default:
		return domain.FindingSuggestion
	}
}

func normalizeSeverity(s string) domain.Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "HIGH", "ERROR":
		return domain.SeverityCritical
	case "WARNING", "MEDIUM", "WARN":
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}
