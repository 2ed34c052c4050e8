package store

import (
	"context"
	"errors"
	"time"

	"github.com/openreview/openreview/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence layer for review pipeline state.
//
// Entities are plain records keyed by generated ids with explicit foreign
// keys; there is no implicit cascade behavior at this layer beyond what
// the schema enforces, and repository deletion is an explicit operation.
type Store interface {
	// User management. Users are created on first reference from a webhook.
	UpsertUser(ctx context.Context, user domain.User) (domain.User, error)

	// GetUserSettings returns the settings row for a user, or ErrNotFound
	// if the user has never configured anything.
	GetUserSettings(ctx context.Context, userID string) (domain.UserSettings, error)
	SaveUserSettings(ctx context.Context, settings domain.UserSettings) (domain.UserSettings, error)

	// Repository management, keyed on the stable GitHub id.
	UpsertRepository(ctx context.Context, repo domain.Repository) (domain.Repository, error)
	GetRepository(ctx context.Context, id string) (domain.Repository, error)
	DeleteRepository(ctx context.Context, id string) error

	// Pull request management, keyed on the stable GitHub id.
	UpsertPullRequest(ctx context.Context, pr domain.PullRequest) (domain.PullRequest, error)
	UpdatePullRequestStatus(ctx context.Context, id string, status domain.PullRequestStatus) error

	// Review lifecycle. GetReviewByTargetKey returns the most recent review
	// for an idempotency key so redelivered events can be detected.
	CreateReview(ctx context.Context, review domain.Review) error
	GetReview(ctx context.Context, id string) (domain.Review, error)
	GetReviewByTargetKey(ctx context.Context, targetKey string) (domain.Review, error)
	StartReview(ctx context.Context, id string, at time.Time) error
	CompleteReview(ctx context.Context, id string, at time.Time, durationMS int64) error
	FailReview(ctx context.Context, id string, at time.Time, durationMS int64) error

	// Finding persistence. Findings are append-only while the owning review
	// is in progress; AttachCommentID is the only later mutation.
	SaveFindings(ctx context.Context, findings []domain.Finding) error
	GetFindingsByReview(ctx context.Context, reviewID string) ([]domain.Finding, error)
	AttachCommentID(ctx context.Context, reviewID string, commentID int64) error

	Close() error
}
