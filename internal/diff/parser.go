package diff

import "strings"

// FileDiff is one file's section of a unified diff.
type FileDiff struct {
	Path  string
	Patch string
}

// IsEmpty reports whether the diff text contains no reviewable content.
// GitHub returns an empty body for targets with zero changed files.
func IsEmpty(diffText string) bool {
	return strings.TrimSpace(diffText) == ""
}

// SplitFiles splits a multi-file unified diff into per-file sections.
// Input that does not start with a "diff --git" header (e.g. a bare hunk)
// is treated as a single unnamed file.
func SplitFiles(diffText string) []FileDiff {
	if IsEmpty(diffText) {
		return nil
	}

	lines := strings.Split(diffText, "\n")
	var files []FileDiff
	var current *FileDiff

	flush := func() {
		if current != nil {
			current.Patch = strings.TrimRight(current.Patch, "\n")
			files = append(files, *current)
			current = nil
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			current = &FileDiff{Path: pathFromHeader(line)}
		}
		if current == nil {
			current = &FileDiff{}
		}
		current.Patch += line + "\n"

		// Prefer the +++ path: it survives renames and is present even
		// when the diff --git header is quoted.
		if strings.HasPrefix(line, "+++ b/") {
			current.Path = strings.TrimPrefix(line, "+++ b/")
		} else if strings.HasPrefix(line, "--- a/") && current.Path == "" {
			current.Path = strings.TrimPrefix(line, "--- a/")
		}
	}
	flush()

	return files
}

// CountFiles returns the number of changed files in a unified diff.
func CountFiles(diffText string) int {
	return len(SplitFiles(diffText))
}

// Truncate returns the diff limited to the first maxFiles files, and the
// number of files that were dropped. maxFiles <= 0 disables the cap.
func Truncate(diffText string, maxFiles int) (string, int) {
	if maxFiles <= 0 {
		return diffText, 0
	}

	files := SplitFiles(diffText)
	if len(files) <= maxFiles {
		return diffText, 0
	}

	var b strings.Builder
	for _, f := range files[:maxFiles] {
		b.WriteString(f.Patch)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), len(files) - maxFiles
}

// pathFromHeader extracts the b-side path from a "diff --git a/x b/x" line.
func pathFromHeader(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return ""
	}
	return strings.TrimPrefix(fields[3], "b/")
}
