package domain

import "errors"

// Pipeline error taxonomy. Handlers branch on these with errors.Is; the
// concrete cause is carried by wrapping.
var (
	// ErrMalformedEvent indicates a webhook payload that passed signature
	// verification but is missing fields the router requires.
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrDiffFetchFailed indicates the diff for the review target could not
	// be retrieved from GitHub.
	ErrDiffFetchFailed = errors.New("diff fetch failed")

	// ErrReviewGenerationFailed indicates the LLM backend did not produce a
	// usable review after all retry attempts.
	ErrReviewGenerationFailed = errors.New("review generation failed")
)
