// Package redaction strips credentials from diffs before they are sent
// to the LLM backend. Diffs routinely leak tokens committed by accident;
// the review still works against a placeholder, and the secret never
// leaves the process.
package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Engine performs regex-based secret detection and redaction.
type Engine struct {
	patterns []*regexp.Regexp
}

// NewEngine creates a redaction engine with the default secret patterns.
func NewEngine() *Engine {
	return &Engine{patterns: defaultPatterns()}
}

// Redact replaces detected secrets with stable placeholders and reports
// how many distinct secrets were found. The placeholder is derived from
// a hash of the secret, so repeated occurrences redact identically and
// findings can still reference the same value.
func (e *Engine) Redact(input string) (string, int) {
	placeholders := make(map[string]string)

	for _, pattern := range e.patterns {
		for _, match := range pattern.FindAllString(input, -1) {
			if _, seen := placeholders[match]; seen {
				continue
			}
			placeholders[match] = placeholderFor(match)
		}
	}

	result := input
	for secret, placeholder := range placeholders {
		result = strings.ReplaceAll(result, secret, placeholder)
	}

	return result, len(placeholders)
}

func placeholderFor(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("<REDACTED:%s>", hex.EncodeToString(hash[:])[:8])
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// OpenAI-style API keys
		`sk-[a-zA-Z0-9]{20,}`,
		// AWS access key ids
		`AKIA[0-9A-Z]{16}`,
		// GitHub tokens
		`gh[posr]_[a-zA-Z0-9]{20,}`,
		// Google API keys
		`AIza[0-9A-Za-z\-_]{35}`,
		// JWTs
		`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`,
		// PEM private keys
		`-----BEGIN\s+(?:RSA|EC|OPENSSH|DSA|ENCRYPTED)\s+PRIVATE\s+KEY-----[\s\S]*?-----END\s+(?:RSA|EC|OPENSSH|DSA|ENCRYPTED)\s+PRIVATE\s+KEY-----`,
		// Slack tokens
		`xox[baprs]-[a-zA-Z0-9\-]{10,}`,
		// Bearer tokens in headers committed to config files
		`Bearer\s+[a-zA-Z0-9_\-\.]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(pattern))
	}
	return compiled
}
