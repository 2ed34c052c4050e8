package review

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/openreview/openreview/internal/domain"
)

// RenderComment builds the markdown comment body posted back to GitHub:
// the engine's summary followed by the findings, ordered as parsed.
func RenderComment(summary string, findings []domain.Finding) string {
	var b strings.Builder
	caser := cases.Title(language.English)

	b.WriteString("## Code Review\n\n")
	if strings.TrimSpace(summary) != "" {
		b.WriteString(strings.TrimSpace(summary))
		b.WriteString("\n\n")
	}

	if len(findings) == 0 {
		b.WriteString("No issues found.\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("### Findings (%d)\n\n", len(findings)))
	for _, f := range findings {
		b.WriteString(fmt.Sprintf("#### %s %s — %s\n\n",
			severityMarker(f.Severity), caser.String(strings.ToLower(string(f.Severity))), f.Message))
		if f.Line != "" {
			b.WriteString(fmt.Sprintf("`%s:%s`", f.File, f.Line))
		} else {
			b.WriteString(fmt.Sprintf("`%s`", f.File))
		}
		b.WriteString(fmt.Sprintf(" · %s\n\n", string(f.Type)))

		if f.Code != "" {
			b.WriteString("```\n")
			b.WriteString(strings.TrimRight(f.Code, "\n"))
			b.WriteString("\n```\n\n")
		}
		if f.Explanation != "" {
			b.WriteString(f.Explanation)
			b.WriteString("\n\n")
		}
		if f.Suggestion != "" {
			b.WriteString(fmt.Sprintf("**Suggestion:** %s\n\n", f.Suggestion))
		}
		for _, url := range f.Resources {
			b.WriteString(fmt.Sprintf("- %s\n", url))
		}
		if len(f.Resources) > 0 {
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func severityMarker(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "🔴"
	case domain.SeverityWarning:
		return "🟡"
	default:
		return "🔵"
	}
}
