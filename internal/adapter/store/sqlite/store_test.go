package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreview/openreview/internal/adapter/store/sqlite"
	"github.com/openreview/openreview/internal/domain"
	"github.com/openreview/openreview/internal/store"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedReview walks the foreign-key chain user → repository → pull request
// and creates one PENDING review, returning the review and pull request ids.
func seedReview(t *testing.T, s *sqlite.Store, reviewID, targetKey string) (string, string) {
	t.Helper()
	ctx := context.Background()

	user, err := s.UpsertUser(ctx, domain.User{ID: "u-1", GitHubID: 7, Login: "octocat"})
	require.NoError(t, err)

	repo, err := s.UpsertRepository(ctx, domain.Repository{
		ID: "r-1", GitHubID: 100, UserID: user.ID, Name: "widgets", FullName: "octocat/widgets",
	})
	require.NoError(t, err)

	pr, err := s.UpsertPullRequest(ctx, domain.PullRequest{
		ID: "pr-1", GitHubID: 555, RepositoryID: repo.ID, Number: 42,
		Title: "Add feature", Author: "contributor", Branch: "feature",
		FilesChanged: 3, Status: domain.PRPending,
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateReview(ctx, domain.Review{
		ID: reviewID, PullRequestID: pr.ID, TargetKey: targetKey,
		Mode: domain.ModeBeginner, Status: domain.ReviewPending,
	}))
	return reviewID, pr.ID
}

func TestUpsertUser_RefreshesLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertUser(ctx, domain.User{ID: "u-1", GitHubID: 7, Login: "octocat"})
	require.NoError(t, err)

	second, err := s.UpsertUser(ctx, domain.User{ID: "u-other", GitHubID: 7, Login: "renamed"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "upsert keyed on github_id keeps the original row")
	assert.Equal(t, "renamed", second.Login)
}

func TestUserSettings_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetUserSettings(ctx, "u-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	user, err := s.UpsertUser(ctx, domain.User{ID: "u-1", GitHubID: 7, Login: "octocat"})
	require.NoError(t, err)

	saved, err := s.SaveUserSettings(ctx, domain.UserSettings{
		ID: "s-1", UserID: user.ID, Mode: domain.ModeExpert, AutoReview: false, MaxFiles: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeExpert, saved.Mode)
	assert.False(t, saved.AutoReview)
	assert.Equal(t, 10, saved.MaxFiles)

	// Second save updates the existing row in place.
	updated, err := s.SaveUserSettings(ctx, domain.UserSettings{
		ID: "s-other", UserID: user.ID, Mode: domain.ModeBeginner, AutoReview: true, MaxFiles: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", updated.ID)
	assert.True(t, updated.AutoReview)
}

func TestUpsertPullRequest_RefreshesMutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, prID := seedReview(t, s, "rev-1", "octocat/widgets#pr-42")

	updated, err := s.UpsertPullRequest(ctx, domain.PullRequest{
		ID: "pr-other", GitHubID: 555, RepositoryID: "r-1", Number: 42,
		Title: "Add feature (take two)", Author: "contributor", Branch: "feature-v2",
		FilesChanged: 7, Status: domain.PRPending,
	})
	require.NoError(t, err)

	assert.Equal(t, prID, updated.ID)
	assert.Equal(t, "Add feature (take two)", updated.Title)
	assert.Equal(t, "feature-v2", updated.Branch)
	assert.Equal(t, 7, updated.FilesChanged)
	// Status changes go through UpdatePullRequestStatus, not the upsert.
	assert.Equal(t, domain.PRPending, updated.Status)
}

func TestUpdatePullRequestStatus_UnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdatePullRequestStatus(context.Background(), "nope", domain.PRReviewed)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReviewTransitions_HappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reviewID, _ := seedReview(t, s, "rev-1", "octocat/widgets#pr-42")

	started := time.Unix(1700000000, 0)
	completed := started.Add(3 * time.Second)

	require.NoError(t, s.StartReview(ctx, reviewID, started))
	require.NoError(t, s.CompleteReview(ctx, reviewID, completed, 3000))

	rev, err := s.GetReview(ctx, reviewID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, rev.Status)
	require.NotNil(t, rev.StartedAt)
	require.NotNil(t, rev.CompletedAt)
	assert.Equal(t, started.Unix(), rev.StartedAt.Unix())
	assert.Equal(t, completed.Unix(), rev.CompletedAt.Unix())
	assert.Equal(t, int64(3000), rev.DurationMS)
}

func TestReviewTransitions_Guarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	t.Run("complete requires in progress", func(t *testing.T) {
		reviewID, _ := seedReview(t, s, "rev-a", "octocat/widgets#pr-1")
		err := s.CompleteReview(ctx, reviewID, at, 0)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("start requires pending", func(t *testing.T) {
		reviewID, _ := seedReview(t, s, "rev-b", "octocat/widgets#pr-2")
		require.NoError(t, s.StartReview(ctx, reviewID, at))
		err := s.StartReview(ctx, reviewID, at)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		reviewID, _ := seedReview(t, s, "rev-c", "octocat/widgets#pr-3")
		require.NoError(t, s.StartReview(ctx, reviewID, at))
		require.NoError(t, s.CompleteReview(ctx, reviewID, at, 0))

		assert.ErrorIs(t, s.FailReview(ctx, reviewID, at, 0), store.ErrNotFound)
		assert.ErrorIs(t, s.StartReview(ctx, reviewID, at), store.ErrNotFound)
	})

	t.Run("fail allowed from pending and in progress", func(t *testing.T) {
		pendingID, _ := seedReview(t, s, "rev-d", "octocat/widgets#pr-4")
		require.NoError(t, s.FailReview(ctx, pendingID, at, 0))

		runningID, _ := seedReview(t, s, "rev-e", "octocat/widgets#pr-5")
		require.NoError(t, s.StartReview(ctx, runningID, at))
		require.NoError(t, s.FailReview(ctx, runningID, at, 0))
	})

	t.Run("unknown review", func(t *testing.T) {
		assert.ErrorIs(t, s.StartReview(ctx, "nope", at), store.ErrNotFound)
	})
}

func TestGetReviewByTargetKey_ReturnsLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "octocat/widgets#pr-42"
	_, prID := seedReview(t, s, "rev-old", key)

	at := time.Unix(1700000000, 0)
	require.NoError(t, s.StartReview(ctx, "rev-old", at))
	require.NoError(t, s.FailReview(ctx, "rev-old", at, 10))

	require.NoError(t, s.CreateReview(ctx, domain.Review{
		ID: "rev-new", PullRequestID: prID, TargetKey: key,
		Mode: domain.ModeBeginner, Status: domain.ReviewPending,
	}))

	latest, err := s.GetReviewByTargetKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "rev-new", latest.ID)

	_, err = s.GetReviewByTargetKey(ctx, "octocat/widgets#pr-404")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindings_SaveAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reviewID, _ := seedReview(t, s, "rev-1", "octocat/widgets#pr-42")

	findings := []domain.Finding{
		{
			ID: "f-1", ReviewID: reviewID, Type: domain.FindingBug,
			Severity: domain.SeverityCritical, File: "main.go", Line: "10",
			Code: "x := y", Message: "shadowed variable",
			Explanation: "y is shadowed in the inner scope.",
			Suggestion:  "rename the inner variable",
			Resources:   []string{"https://go.dev/doc/effective_go", "https://go.dev/wiki/CodeReviewComments"},
		},
		{
			ID: "f-2", ReviewID: reviewID, Type: domain.FindingStyle,
			Severity: domain.SeverityInfo, File: "util.go", Line: "",
			Message: "missing doc comment",
		},
	}
	require.NoError(t, s.SaveFindings(ctx, findings))

	got, err := s.GetFindingsByReview(ctx, reviewID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f-1", got[0].ID)
	assert.Equal(t, domain.SeverityCritical, got[0].Severity)
	assert.Len(t, got[0].Resources, 2)
	assert.Empty(t, got[1].Resources)
}

func TestSaveFindings_EmptySliceIsNoOp(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.SaveFindings(context.Background(), nil))
}

func TestAttachCommentID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reviewID, _ := seedReview(t, s, "rev-1", "octocat/widgets#pr-42")

	require.NoError(t, s.SaveFindings(ctx, []domain.Finding{
		{ID: "f-1", ReviewID: reviewID, Type: domain.FindingBug,
			Severity: domain.SeverityWarning, File: "a.go", Line: "1", Message: "m"},
	}))
	require.NoError(t, s.AttachCommentID(ctx, reviewID, 9001))

	got, err := s.GetFindingsByReview(ctx, reviewID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(9001), got[0].CommentID)
}

func TestDeleteRepository_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reviewID, prID := seedReview(t, s, "rev-1", "octocat/widgets#pr-42")

	require.NoError(t, s.SaveFindings(ctx, []domain.Finding{
		{ID: "f-1", ReviewID: reviewID, Type: domain.FindingBug,
			Severity: domain.SeverityWarning, File: "a.go", Line: "1", Message: "m",
			Resources: []string{"https://example.com"}},
	}))

	require.NoError(t, s.DeleteRepository(ctx, "r-1"))

	_, err := s.GetReview(ctx, reviewID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdatePullRequestStatus(ctx, prID, domain.PRReviewed), store.ErrNotFound)

	got, err := s.GetFindingsByReview(ctx, reviewID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedReview(t, s, "rev-1", "octocat/widgets#pr-42")

	repo, err := s.GetRepository(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "octocat/widgets", repo.FullName)

	_, err = s.GetRepository(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
