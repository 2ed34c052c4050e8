package review

import (
	"context"
	"fmt"

	"github.com/openreview/openreview/internal/domain"
)

// Backend is the outbound port to the LLM service. The implementation
// owns sampling parameters and the retry policy for transient failures.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Logger provides structured logging for the review use case.
type Logger interface {
	LogInfo(ctx context.Context, message string, fields map[string]interface{})
	LogWarning(ctx context.Context, message string, fields map[string]interface{})
}

// Engine turns a diff into a summary and structured findings by prompting
// the LLM backend and parsing its output.
type Engine struct {
	backend Backend
	prompts *PromptBuilder
	logger  Logger
}

// NewEngine creates an engine over the given backend.
func NewEngine(backend Backend, prompts *PromptBuilder, logger Logger) *Engine {
	return &Engine{backend: backend, prompts: prompts, logger: logger}
}

// Review generates a code review for the diff at the given verbosity mode.
//
// The backend has already retried transient failures by the time an error
// surfaces here, so any backend error means generation is exhausted and
// is wrapped as domain.ErrReviewGenerationFailed for the lifecycle to
// mark the review FAILED.
func (e *Engine) Review(ctx context.Context, diffText string, mode domain.ReviewMode) (string, []domain.Finding, error) {
	prompt, err := e.prompts.Build(diffText, mode)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrReviewGenerationFailed, err)
	}

	output, err := e.backend.Generate(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrReviewGenerationFailed, err)
	}

	summary, findings := ParseModelOutput(ctx, output, e.logger)

	if e.logger != nil {
		e.logger.LogInfo(ctx, "review generated", map[string]interface{}{
			"mode":     string(mode),
			"findings": len(findings),
		})
	}

	return summary, findings, nil
}
