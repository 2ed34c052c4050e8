package review_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreview/openreview/internal/adapter/store/sqlite"
	"github.com/openreview/openreview/internal/domain"
	"github.com/openreview/openreview/internal/store"
	"github.com/openreview/openreview/internal/usecase/review"
)

const sampleDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,3 @@
 package main
-var x = 1
+var x = 2
`

type fakeDiffs struct {
	diff  string
	err   error
	calls int32
}

func (f *fakeDiffs) GetCommitDiff(ctx context.Context, repo, sha string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.diff, f.err
}

func (f *fakeDiffs) GetPullRequestDiff(ctx context.Context, repo string, number int) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.diff, f.err
}

type fakeReviewer struct {
	summary  string
	findings []domain.Finding
	err      error
	calls    int32
}

func (f *fakeReviewer) Review(ctx context.Context, diffText string, mode domain.ReviewMode) (string, []domain.Finding, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return "", nil, f.err
	}
	out := make([]domain.Finding, len(f.findings))
	copy(out, f.findings)
	return f.summary, out, nil
}

type fakePublisher struct {
	commentID int64
	err       error
	calls     int32
	lastBody  string
}

func (f *fakePublisher) PostCommitComment(ctx context.Context, repo, sha, body string) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastBody = body
	return f.commentID, f.err
}

func (f *fakePublisher) PostPullRequestComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastBody = body
	return f.commentID, f.err
}

type lifecycleFixture struct {
	store     *sqlite.Store
	diffs     *fakeDiffs
	reviewer  *fakeReviewer
	publisher *fakePublisher
	lifecycle *review.Lifecycle
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fx := &lifecycleFixture{
		store: st,
		diffs: &fakeDiffs{diff: sampleDiff},
		reviewer: &fakeReviewer{
			summary: "One thing to fix.",
			findings: []domain.Finding{
				{
					Type:      domain.FindingBug,
					Severity:  domain.SeverityWarning,
					File:      "main.go",
					Line:      "2",
					Message:   "magic number",
					Resources: []string{"https://go.dev/doc/effective_go"},
				},
			},
		},
		publisher: &fakePublisher{commentID: 9001},
	}

	var idSeq int32
	lc, err := review.NewLifecycle(review.LifecycleDeps{
		Diffs:     fx.diffs,
		Reviewer:  fx.reviewer,
		Publisher: fx.publisher,
		Store:     st,
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
		NewID:     func() string { return fmt.Sprintf("id-%d", atomic.AddInt32(&idSeq, 1)) },
	})
	require.NoError(t, err)
	fx.lifecycle = lc
	return fx
}

func prIntent() *review.Intent {
	return &review.Intent{
		Kind:          review.TargetPullRequest,
		RepoGitHubID:  100,
		RepoName:      "widgets",
		RepoFullName:  "octocat/widgets",
		OwnerGitHubID: 7,
		OwnerLogin:    "octocat",
		PRGitHubID:    555,
		PRNumber:      42,
		Title:         "Add feature",
		Author:        "contributor",
		Branch:        "feature",
		FilesChanged:  1,
	}
}

func commitIntent() *review.Intent {
	return &review.Intent{
		Kind:          review.TargetCommit,
		RepoGitHubID:  100,
		RepoName:      "widgets",
		RepoFullName:  "octocat/widgets",
		OwnerGitHubID: 7,
		OwnerLogin:    "octocat",
		CommitSHA:     "cafe3",
	}
}

func TestLifecycle_PullRequestHappyPath(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	intent := prIntent()

	require.NoError(t, fx.lifecycle.Process(ctx, intent))

	rev, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, rev.Status)
	require.NotNil(t, rev.StartedAt)
	require.NotNil(t, rev.CompletedAt)

	findings, err := fx.store.GetFindingsByReview(ctx, rev.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "magic number", findings[0].Message)
	assert.Equal(t, []string{"https://go.dev/doc/effective_go"}, findings[0].Resources)
	assert.Equal(t, int64(9001), findings[0].CommentID)

	assert.Equal(t, int32(1), fx.publisher.calls)
	assert.Contains(t, fx.publisher.lastBody, "magic number")
	assert.Contains(t, fx.publisher.lastBody, "main.go")
}

func TestLifecycle_EmptyDiffCompletesWithoutModel(t *testing.T) {
	fx := newLifecycleFixture(t)
	fx.diffs.diff = "   \n"
	ctx := context.Background()
	intent := prIntent()

	require.NoError(t, fx.lifecycle.Process(ctx, intent))

	rev, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, rev.Status)

	assert.Zero(t, fx.reviewer.calls, "model must not be called for an empty diff")
	assert.Zero(t, fx.publisher.calls, "nothing to publish for an empty diff")
}

func TestLifecycle_DiffFetchFailureMarksFailed(t *testing.T) {
	fx := newLifecycleFixture(t)
	fx.diffs.err = errors.New("github unavailable")
	ctx := context.Background()
	intent := prIntent()

	err := fx.lifecycle.Process(ctx, intent)
	require.ErrorIs(t, err, domain.ErrDiffFetchFailed)

	rev, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewFailed, rev.Status)
	assert.Zero(t, fx.reviewer.calls)
}

func TestLifecycle_ReviewerFailureMarksFailed(t *testing.T) {
	fx := newLifecycleFixture(t)
	fx.reviewer.err = fmt.Errorf("%w: backend exhausted", domain.ErrReviewGenerationFailed)
	ctx := context.Background()
	intent := prIntent()

	err := fx.lifecycle.Process(ctx, intent)
	require.ErrorIs(t, err, domain.ErrReviewGenerationFailed)

	rev, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewFailed, rev.Status)
	assert.Zero(t, fx.publisher.calls)
}

func TestLifecycle_PublishFailureKeepsReviewCompleted(t *testing.T) {
	fx := newLifecycleFixture(t)
	fx.publisher.err = errors.New("comment endpoint down")
	ctx := context.Background()
	intent := prIntent()

	// Losing the notification is tolerated; the analysis is kept.
	require.NoError(t, fx.lifecycle.Process(ctx, intent))

	rev, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, rev.Status)

	findings, err := fx.store.GetFindingsByReview(ctx, rev.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Zero(t, findings[0].CommentID)
}

func TestLifecycle_RedeliveryIsNoOp(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	intent := prIntent()

	require.NoError(t, fx.lifecycle.Process(ctx, intent))
	first, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)

	require.NoError(t, fx.lifecycle.Process(ctx, intent))
	second, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), fx.reviewer.calls, "redelivery must not re-run the model")
	assert.Equal(t, int32(1), fx.publisher.calls)
}

func TestLifecycle_FailedReviewAllowsRetry(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	intent := prIntent()

	fx.diffs.err = errors.New("transient")
	require.Error(t, fx.lifecycle.Process(ctx, intent))
	failed, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	require.Equal(t, domain.ReviewFailed, failed.Status)

	fx.diffs.err = nil
	require.NoError(t, fx.lifecycle.Process(ctx, intent))
	retried, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retried.ID)
	assert.Equal(t, domain.ReviewCompleted, retried.Status)
}

func TestLifecycle_StrandedPendingReviewIsSuperseded(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	intent := prIntent()

	// A PENDING row left behind by a crash before the pipeline ran.
	require.NoError(t, fx.store.CreateReview(ctx, domain.Review{
		ID:        "stale-1",
		TargetKey: intent.TargetKey(),
		Mode:      domain.ModeBeginner,
		Status:    domain.ReviewPending,
	}))

	require.NoError(t, fx.lifecycle.Process(ctx, intent))

	rev, err := fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	require.NoError(t, err)
	assert.NotEqual(t, "stale-1", rev.ID)
	assert.Equal(t, domain.ReviewCompleted, rev.Status)
	assert.Equal(t, int32(1), fx.reviewer.calls)
}

// blockingReviewer parks every call on gate so concurrent deliveries can be
// forced to overlap.
type blockingReviewer struct {
	inner *fakeReviewer
	gate  chan struct{}
}

func (b *blockingReviewer) Review(ctx context.Context, diffText string, mode domain.ReviewMode) (string, []domain.Finding, error) {
	<-b.gate
	return b.inner.Review(ctx, diffText, mode)
}

func TestLifecycle_ConcurrentDeliveriesReviewOnce(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	gate := make(chan struct{})
	blocking := &blockingReviewer{inner: fx.reviewer, gate: gate}

	var idSeq int32
	lc, err := review.NewLifecycle(review.LifecycleDeps{
		Diffs:     fx.diffs,
		Reviewer:  blocking,
		Publisher: fx.publisher,
		Store:     fx.store,
		NewID:     func() string { return fmt.Sprintf("cc-%d", atomic.AddInt32(&idSeq, 1)) },
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = lc.Process(ctx, prIntent())
		}(i)
	}

	// Wait until the first delivery is inside the model call, then let
	// both proceed.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fx.diffs.calls) == 1
	}, 2*time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, int32(1), fx.reviewer.calls, "one delivery reviews, the other is a no-op")
	assert.Equal(t, int32(1), fx.publisher.calls)

	rev, err := fx.store.GetReviewByTargetKey(ctx, prIntent().TargetKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, rev.Status)

	// Every id handed out went to a user, repo, pull request, finding, or
	// review row; only review ids resolve here, and there must be one.
	var count int
	for i := int32(1); i <= atomic.LoadInt32(&idSeq); i++ {
		if _, err := fx.store.GetReview(ctx, fmt.Sprintf("cc-%d", i)); err == nil {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one review row for the target")
}

func TestLifecycle_AutoReviewDisabledSkips(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	intent := prIntent()

	user, err := fx.store.UpsertUser(ctx, domain.User{
		ID: "u-1", GitHubID: intent.OwnerGitHubID, Login: intent.OwnerLogin,
	})
	require.NoError(t, err)
	_, err = fx.store.SaveUserSettings(ctx, domain.UserSettings{
		ID:         "s-1",
		UserID:     user.ID,
		Mode:       domain.ModeBeginner,
		AutoReview: false,
		MaxFiles:   50,
	})
	require.NoError(t, err)

	require.NoError(t, fx.lifecycle.Process(ctx, intent))

	_, err = fx.store.GetReviewByTargetKey(ctx, intent.TargetKey())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, fx.diffs.calls)
}

func TestLifecycle_CommitTargetPublishesCommitComment(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	intent := commitIntent()

	require.NoError(t, fx.lifecycle.Process(ctx, intent))

	rev, err := fx.store.GetReviewByTargetKey(ctx, "octocat/widgets#sha-cafe3")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, rev.Status)
	assert.Empty(t, rev.PullRequestID)
	assert.Equal(t, int32(1), fx.publisher.calls)
}

func TestLifecycle_FileCapTruncatesDiff(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	intent := prIntent()

	var b strings.Builder
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, "diff --git a/file%d.go b/file%d.go\n--- a/file%d.go\n+++ b/file%d.go\n@@ -1 +1 @@\n-a\n+b\n", i, i, i, i)
	}
	fx.diffs.diff = b.String()

	user, err := fx.store.UpsertUser(ctx, domain.User{
		ID: "u-1", GitHubID: intent.OwnerGitHubID, Login: intent.OwnerLogin,
	})
	require.NoError(t, err)
	_, err = fx.store.SaveUserSettings(ctx, domain.UserSettings{
		ID:         "s-1",
		UserID:     user.ID,
		Mode:       domain.ModeBeginner,
		AutoReview: true,
		MaxFiles:   2,
	})
	require.NoError(t, err)

	// Capture what the model actually receives.
	seen := ""
	lc, err := review.NewLifecycle(review.LifecycleDeps{
		Diffs: fx.diffs,
		Reviewer: reviewerFunc(func(ctx context.Context, diffText string, mode domain.ReviewMode) (string, []domain.Finding, error) {
			seen = diffText
			return "ok", nil, nil
		}),
		Publisher: fx.publisher,
		Store:     fx.store,
	})
	require.NoError(t, err)

	require.NoError(t, lc.Process(ctx, intent))
	assert.Contains(t, seen, "file0.go")
	assert.Contains(t, seen, "file1.go")
	assert.NotContains(t, seen, "file2.go")
}

type reviewerFunc func(ctx context.Context, diffText string, mode domain.ReviewMode) (string, []domain.Finding, error)

func (f reviewerFunc) Review(ctx context.Context, diffText string, mode domain.ReviewMode) (string, []domain.Finding, error) {
	return f(ctx, diffText, mode)
}
