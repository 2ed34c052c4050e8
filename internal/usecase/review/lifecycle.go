package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openreview/openreview/internal/diff"
	"github.com/openreview/openreview/internal/domain"
	"github.com/openreview/openreview/internal/store"
)

// DiffFetcher is the outbound port for retrieving unified diffs.
// An empty string with a nil error means the target has no changes.
type DiffFetcher interface {
	GetCommitDiff(ctx context.Context, repoFullName, sha string) (string, error)
	GetPullRequestDiff(ctx context.Context, repoFullName string, number int) (string, error)
}

// CommentPublisher is the outbound port for posting review comments.
type CommentPublisher interface {
	PostCommitComment(ctx context.Context, repoFullName, sha, body string) (int64, error)
	PostPullRequestComment(ctx context.Context, repoFullName string, number int, body string) (int64, error)
}

// Reviewer is the outbound port to the review engine.
type Reviewer interface {
	Review(ctx context.Context, diffText string, mode domain.ReviewMode) (string, []domain.Finding, error)
}

// Redactor is the outbound port for secret redaction. Optional: a nil
// redactor sends diffs to the backend as fetched.
type Redactor interface {
	Redact(input string) (string, int)
}

// LifecycleDeps captures the collaborators for the review lifecycle.
type LifecycleDeps struct {
	Diffs     DiffFetcher
	Reviewer  Reviewer
	Publisher CommentPublisher
	Store     store.Store
	Redactor  Redactor
	Logger    Logger

	// Now and NewID exist so tests can pin time and ids.
	Now   func() time.Time
	NewID func() string
}

// Lifecycle owns the review state machine: it drives a webhook intent
// through diff acquisition, review generation, persistence, and comment
// publication, recording every state transition.
type Lifecycle struct {
	deps LifecycleDeps

	// targetLocks serializes concurrent deliveries for the same target so
	// at-least-once webhook delivery cannot start two reviews of one PR.
	targetLocks sync.Map // target key (string) → *sync.Mutex
}

// NewLifecycle constructs a Lifecycle, validating required dependencies.
func NewLifecycle(deps LifecycleDeps) (*Lifecycle, error) {
	if deps.Diffs == nil {
		return nil, errors.New("lifecycle requires a diff fetcher")
	}
	if deps.Reviewer == nil {
		return nil, errors.New("lifecycle requires a reviewer")
	}
	if deps.Publisher == nil {
		return nil, errors.New("lifecycle requires a comment publisher")
	}
	if deps.Store == nil {
		return nil, errors.New("lifecycle requires a store")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Lifecycle{deps: deps}, nil
}

// Process runs the full pipeline for one intent. Redelivered events for a
// target that already has a completed or in-flight review are no-ops.
//
// The returned error reflects the pipeline outcome; by the time Process
// returns, the review row (if one was created) is in a terminal state.
func (l *Lifecycle) Process(ctx context.Context, intent *Intent) (err error) {
	key := intent.TargetKey()

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	// Persist the repository and owning user on first reference.
	user, err := l.deps.Store.UpsertUser(ctx, domain.User{
		ID:       l.deps.NewID(),
		GitHubID: intent.OwnerGitHubID,
		Login:    intent.OwnerLogin,
	})
	if err != nil {
		return fmt.Errorf("persist user: %w", err)
	}

	repo, err := l.deps.Store.UpsertRepository(ctx, domain.Repository{
		ID:       l.deps.NewID(),
		GitHubID: intent.RepoGitHubID,
		UserID:   user.ID,
		Name:     intent.RepoName,
		FullName: intent.RepoFullName,
		Private:  intent.RepoPrivate,
	})
	if err != nil {
		return fmt.Errorf("persist repository: %w", err)
	}

	settings, err := l.deps.Store.GetUserSettings(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		settings = domain.DefaultSettings()
	} else if err != nil {
		return fmt.Errorf("load user settings: %w", err)
	}

	if !settings.AutoReview {
		l.logInfo(ctx, "auto-review disabled, skipping", map[string]interface{}{"target": key})
		return nil
	}

	var prID string
	if intent.Kind == TargetPullRequest {
		pr, err := l.deps.Store.UpsertPullRequest(ctx, domain.PullRequest{
			ID:           l.deps.NewID(),
			GitHubID:     intent.PRGitHubID,
			RepositoryID: repo.ID,
			Number:       intent.PRNumber,
			Title:        intent.Title,
			Author:       intent.Author,
			Branch:       intent.Branch,
			FilesChanged: intent.FilesChanged,
			Status:       domain.PRPending,
		})
		if err != nil {
			return fmt.Errorf("persist pull request: %w", err)
		}
		prID = pr.ID
	}

	// Idempotency: a completed or in-flight review for this target means a
	// redelivered event, which succeeds without doing anything. A FAILED
	// review allows a retry, and so does a PENDING row stranded by a crash
	// before the pipeline started; live PENDING rows are never visible here
	// because the target mutex is held from creation to the first
	// transition.
	existing, err := l.deps.Store.GetReviewByTargetKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("check existing review: %w", err)
	}
	if err == nil && (existing.Status == domain.ReviewInProgress || existing.Status == domain.ReviewCompleted) {
		l.logInfo(ctx, "review already exists for target, ignoring redelivery", map[string]interface{}{
			"target": key,
			"review": existing.ID,
			"status": string(existing.Status),
		})
		return nil
	}

	review := domain.Review{
		ID:            l.deps.NewID(),
		PullRequestID: prID,
		TargetKey:     key,
		Mode:          settings.Mode,
		Status:        domain.ReviewPending,
	}
	if err := l.deps.Store.CreateReview(ctx, review); err != nil {
		return fmt.Errorf("create review: %w", err)
	}

	return l.run(ctx, intent, review, settings, prID)
}

// run drives a created review to a terminal state. Any panic from a
// collaborator is converted into a FAILED review rather than crashing
// the handler.
func (l *Lifecycle) run(ctx context.Context, intent *Intent, review domain.Review, settings domain.UserSettings, prID string) (err error) {
	startedAt := l.deps.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("review pipeline panic: %v", r)
			l.markFailed(ctx, review.ID, prID, startedAt, err)
		}
	}()

	if err := l.deps.Store.StartReview(ctx, review.ID, startedAt); err != nil {
		return fmt.Errorf("start review: %w", err)
	}
	if prID != "" {
		if err := l.deps.Store.UpdatePullRequestStatus(ctx, prID, domain.PRReviewing); err != nil {
			return fmt.Errorf("mark pull request reviewing: %w", err)
		}
	}

	diffText, err := l.fetchDiff(ctx, intent)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", domain.ErrDiffFetchFailed, err)
		l.markFailed(ctx, review.ID, prID, startedAt, wrapped)
		return wrapped
	}

	// Cost-control fast path: nothing changed, so the review completes
	// with zero findings and the model is never invoked.
	if diff.IsEmpty(diffText) {
		l.logInfo(ctx, "empty diff, nothing to review", map[string]interface{}{"target": intent.TargetKey()})
		l.complete(ctx, review.ID, prID, startedAt)
		return nil
	}

	diffText = l.capDiff(ctx, intent, diffText, settings.MaxFiles, prID)

	if l.deps.Redactor != nil {
		redacted, secrets := l.deps.Redactor.Redact(diffText)
		if secrets > 0 {
			l.logWarning(ctx, "diff contains secrets, redacted before review", map[string]interface{}{
				"target":  intent.TargetKey(),
				"secrets": secrets,
			})
		}
		diffText = redacted
	}

	summary, findings, err := l.deps.Reviewer.Review(ctx, diffText, settings.Mode)
	if err != nil {
		l.markFailed(ctx, review.ID, prID, startedAt, err)
		return err
	}

	for i := range findings {
		findings[i].ID = l.deps.NewID()
		findings[i].ReviewID = review.ID
	}
	if err := l.deps.Store.SaveFindings(ctx, findings); err != nil {
		wrapped := fmt.Errorf("persist findings: %w", err)
		l.markFailed(ctx, review.ID, prID, startedAt, wrapped)
		return wrapped
	}

	// The review is complete once findings are persisted. Publishing is
	// best-effort: losing the notification is acceptable, losing the
	// analysis is not.
	l.complete(ctx, review.ID, prID, startedAt)

	body := RenderComment(summary, findings)
	commentID, err := l.publish(ctx, intent, body)
	if err != nil {
		l.logWarning(ctx, "failed to publish review comment", map[string]interface{}{
			"target": intent.TargetKey(),
			"review": review.ID,
			"error":  err.Error(),
		})
		return nil
	}

	if len(findings) > 0 {
		if err := l.deps.Store.AttachCommentID(ctx, review.ID, commentID); err != nil {
			l.logWarning(ctx, "failed to record comment id", map[string]interface{}{
				"review": review.ID,
				"error":  err.Error(),
			})
		}
	}

	l.logInfo(ctx, "review published", map[string]interface{}{
		"target":   intent.TargetKey(),
		"review":   review.ID,
		"findings": len(findings),
		"comment":  commentID,
	})
	return nil
}

func (l *Lifecycle) fetchDiff(ctx context.Context, intent *Intent) (string, error) {
	if intent.Kind == TargetPullRequest {
		return l.deps.Diffs.GetPullRequestDiff(ctx, intent.RepoFullName, intent.PRNumber)
	}
	return l.deps.Diffs.GetCommitDiff(ctx, intent.RepoFullName, intent.CommitSHA)
}

// capDiff enforces the per-user changed-file limit and refreshes the
// stored files-changed count from the diff we actually fetched.
func (l *Lifecycle) capDiff(ctx context.Context, intent *Intent, diffText string, maxFiles int, prID string) string {
	count := diff.CountFiles(diffText)

	if prID != "" && count != intent.FilesChanged {
		if _, err := l.deps.Store.UpsertPullRequest(ctx, domain.PullRequest{
			ID:           prID,
			GitHubID:     intent.PRGitHubID,
			RepositoryID: "",
			Number:       intent.PRNumber,
			Title:        intent.Title,
			Author:       intent.Author,
			Branch:       intent.Branch,
			FilesChanged: count,
			Status:       domain.PRReviewing,
		}); err != nil {
			l.logWarning(ctx, "failed to update files-changed count", map[string]interface{}{
				"pull_request": prID,
				"error":        err.Error(),
			})
		}
	}

	capped, dropped := diff.Truncate(diffText, maxFiles)
	if dropped > 0 {
		l.logInfo(ctx, "diff exceeds file cap, truncating", map[string]interface{}{
			"target":    intent.TargetKey(),
			"files":     count,
			"max_files": maxFiles,
			"dropped":   dropped,
		})
	}
	return capped
}

func (l *Lifecycle) publish(ctx context.Context, intent *Intent, body string) (int64, error) {
	if intent.Kind == TargetPullRequest {
		return l.deps.Publisher.PostPullRequestComment(ctx, intent.RepoFullName, intent.PRNumber, body)
	}
	return l.deps.Publisher.PostCommitComment(ctx, intent.RepoFullName, intent.CommitSHA, body)
}

func (l *Lifecycle) complete(ctx context.Context, reviewID, prID string, startedAt time.Time) {
	completedAt := l.deps.Now()
	durationMS := completedAt.Sub(startedAt).Milliseconds()

	if err := l.deps.Store.CompleteReview(ctx, reviewID, completedAt, durationMS); err != nil {
		l.logWarning(ctx, "failed to mark review completed", map[string]interface{}{
			"review": reviewID,
			"error":  err.Error(),
		})
	}
	if prID != "" {
		if err := l.deps.Store.UpdatePullRequestStatus(ctx, prID, domain.PRReviewed); err != nil {
			l.logWarning(ctx, "failed to mark pull request reviewed", map[string]interface{}{
				"pull_request": prID,
				"error":        err.Error(),
			})
		}
	}
}

func (l *Lifecycle) markFailed(ctx context.Context, reviewID, prID string, startedAt time.Time, cause error) {
	failedAt := l.deps.Now()
	durationMS := failedAt.Sub(startedAt).Milliseconds()

	l.logWarning(ctx, "review failed", map[string]interface{}{
		"review": reviewID,
		"error":  cause.Error(),
	})

	if err := l.deps.Store.FailReview(ctx, reviewID, failedAt, durationMS); err != nil {
		l.logWarning(ctx, "failed to mark review failed", map[string]interface{}{
			"review": reviewID,
			"error":  err.Error(),
		})
	}
	if prID != "" {
		if err := l.deps.Store.UpdatePullRequestStatus(ctx, prID, domain.PRFailed); err != nil {
			l.logWarning(ctx, "failed to mark pull request failed", map[string]interface{}{
				"pull_request": prID,
				"error":        err.Error(),
			})
		}
	}
}

func (l *Lifecycle) lockFor(key string) *sync.Mutex {
	mu, _ := l.targetLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (l *Lifecycle) logInfo(ctx context.Context, message string, fields map[string]interface{}) {
	if l.deps.Logger != nil {
		l.deps.Logger.LogInfo(ctx, message, fields)
	}
}

func (l *Lifecycle) logWarning(ctx context.Context, message string, fields map[string]interface{}) {
	if l.deps.Logger != nil {
		l.deps.Logger.LogWarning(ctx, message, fields)
	}
}
