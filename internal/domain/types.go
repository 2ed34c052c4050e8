package domain

import "time"

// ReviewMode controls the verbosity of generated review commentary.
type ReviewMode string

const (
	ModeBeginner ReviewMode = "BEGINNER"
	ModeExpert   ReviewMode = "EXPERT"
)

// ReviewStatus tracks a review through its lifecycle.
// PENDING and IN_PROGRESS are transient; COMPLETED and FAILED are terminal.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "PENDING"
	ReviewInProgress ReviewStatus = "IN_PROGRESS"
	ReviewCompleted  ReviewStatus = "COMPLETED"
	ReviewFailed     ReviewStatus = "FAILED"
)

// Terminal reports whether no further transitions may leave this status.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewCompleted || s == ReviewFailed
}

// PullRequestStatus tracks the review state of a pull request.
type PullRequestStatus string

const (
	PRPending   PullRequestStatus = "PENDING"
	PRReviewing PullRequestStatus = "REVIEWING"
	PRReviewed  PullRequestStatus = "REVIEWED"
	PRFailed    PullRequestStatus = "FAILED"
)

// FindingType categorizes an issue surfaced by the model.
type FindingType string

const (
	FindingStyle       FindingType = "style"
	FindingBug         FindingType = "bug"
	FindingSecurity    FindingType = "security"
	FindingPerformance FindingType = "performance"
	FindingSuggestion  FindingType = "suggestion"
)

// Severity is an ordered severity level: INFO < WARNING < CRITICAL.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal position of the severity, with unknown
// severities ranking below INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Repository is a GitHub repository tracked by the service.
// Created on the first webhook that references it.
type Repository struct {
	ID        string
	GitHubID  int64
	UserID    string
	Name      string
	FullName  string
	Private   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PullRequest is a single reviewable unit within a repository.
type PullRequest struct {
	ID           string
	GitHubID     int64
	RepositoryID string
	Number       int
	Title        string
	Author       string
	Branch       string
	FilesChanged int
	Status       PullRequestStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Review is one execution of the review pipeline against a pull request
// or a single commit. TargetKey identifies the reviewed target and is
// used to de-duplicate redelivered webhook events.
type Review struct {
	ID            string
	PullRequestID string
	TargetKey     string
	Mode          ReviewMode
	Status        ReviewStatus
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DurationMS    int64
	CreatedAt     time.Time
}

// Finding is a single issue identified during a review, scoped to a file
// and line. Immutable after creation except for CommentID, which is set
// once the finding has been published to GitHub.
type Finding struct {
	ID          string
	ReviewID    string
	Type        FindingType
	Severity    Severity
	File        string
	Line        string
	Code        string
	Message     string
	Explanation string
	Suggestion  string
	Resources   []string
	CommentID   int64
	CreatedAt   time.Time
}

// User is a GitHub account known to the service.
type User struct {
	ID        string
	GitHubID  int64
	Login     string
	CreatedAt time.Time
}

// UserSettings holds per-account review configuration. The pipeline reads
// it to decide verbosity, whether to review at all, and the file cap.
type UserSettings struct {
	ID         string
	UserID     string
	Mode       ReviewMode
	AutoReview bool
	MaxFiles   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DefaultSettings returns the settings applied to accounts that have not
// configured anything yet.
func DefaultSettings() UserSettings {
	return UserSettings{
		Mode:       ModeBeginner,
		AutoReview: true,
		MaxFiles:   50,
	}
}
