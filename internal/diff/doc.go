// Package diff provides lightweight parsing of unified diffs as returned
// by the GitHub API. The pipeline uses it to count changed files and to
// cap oversized diffs before they reach the model.
package diff
