package review

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/openreview/openreview/internal/domain"
)

// PromptBuilder renders the review prompt sent to the LLM backend.
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder creates a prompt builder with the default template.
func NewPromptBuilder() (*PromptBuilder, error) {
	tmpl, err := template.New("review").Parse(defaultPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &PromptBuilder{tmpl: tmpl}, nil
}

type promptData struct {
	Audience string
	Diff     string
}

// Build renders the prompt for a diff at the given verbosity mode.
func (b *PromptBuilder) Build(diffText string, mode domain.ReviewMode) (string, error) {
	data := promptData{
		Audience: audienceFor(mode),
		Diff:     diffText,
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

func audienceFor(mode domain.ReviewMode) string {
	if mode == domain.ModeExpert {
		return "an experienced engineer; keep explanations terse and skip basics"
	}
	return "a developer new to this codebase; explain each issue and why it matters"
}

// The model must answer with a single fenced JSON block. Anything outside
// the fence is ignored by the parser, and malformed findings inside the
// array are skipped individually.
const defaultPromptTemplate = `You are a senior code reviewer. Review the following unified diff and report concrete issues.

Write for {{.Audience}}.

Respond with exactly one fenced code block containing JSON of this shape:

` + "```json" + `
{
  "summary": "one-paragraph overview of the change and its risks",
  "findings": [
    {
      "type": "style|bug|security|performance|suggestion",
      "severity": "INFO|WARNING|CRITICAL",
      "file": "path/to/file",
      "line": "42",
      "code": "the offending excerpt",
      "message": "short description of the issue",
      "explanation": "why this is a problem",
      "suggestion": "how to fix it (optional)",
      "resources": ["https://reference.url"]
    }
  ]
}
` + "```" + `

Report only issues visible in the diff. If the change looks fine, return an empty findings array.

Diff:

{{.Diff}}
`
