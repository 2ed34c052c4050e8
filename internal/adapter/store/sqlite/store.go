package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openreview/openreview/internal/domain"
	"github.com/openreview/openreview/internal/store"
)

// Store implements the store.Store interface using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}

	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return s, nil
}

// createSchema creates all tables and indexes if they don't exist.
func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		github_id INTEGER NOT NULL UNIQUE,
		login TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		mode TEXT NOT NULL,
		auto_review INTEGER NOT NULL DEFAULT 1,
		max_files INTEGER NOT NULL DEFAULT 50,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		github_id INTEGER NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		private INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id TEXT PRIMARY KEY,
		github_id INTEGER NOT NULL UNIQUE,
		repository_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		files_changed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		pull_request_id TEXT,
		target_key TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (pull_request_id) REFERENCES pull_requests(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		review_id TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		file TEXT NOT NULL,
		line TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		suggestion TEXT NOT NULL DEFAULT '',
		comment_id INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (review_id) REFERENCES reviews(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS finding_resources (
		finding_id TEXT NOT NULL,
		url TEXT NOT NULL,
		FOREIGN KEY (finding_id) REFERENCES findings(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_target_key ON reviews(target_key, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
	CREATE INDEX IF NOT EXISTS idx_findings_review ON findings(review_id);
	CREATE INDEX IF NOT EXISTS idx_pull_requests_repo ON pull_requests(repository_id);
	CREATE INDEX IF NOT EXISTS idx_resources_finding ON finding_resources(finding_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertUser inserts a user or refreshes its login, keyed on github_id.
func (s *Store) UpsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	now := time.Now()
	query := `
		INSERT INTO users (id, github_id, login, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET login = excluded.login
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.GitHubID, user.Login, now.Unix()); err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, github_id, login, created_at FROM users WHERE github_id = ?`, user.GitHubID)

	var out domain.User
	var createdAt int64
	if err := row.Scan(&out.ID, &out.GitHubID, &out.Login, &createdAt); err != nil {
		return domain.User{}, fmt.Errorf("read user: %w", err)
	}
	out.CreatedAt = time.Unix(createdAt, 0)
	return out, nil
}

// GetUserSettings returns the settings row for a user.
func (s *Store) GetUserSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, mode, auto_review, max_files, created_at, updated_at
		FROM user_settings WHERE user_id = ?`, userID)

	var out domain.UserSettings
	var autoReview int
	var createdAt, updatedAt int64
	err := row.Scan(&out.ID, &out.UserID, &out.Mode, &autoReview, &out.MaxFiles, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserSettings{}, store.ErrNotFound
	}
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("read user settings: %w", err)
	}
	out.AutoReview = autoReview != 0
	out.CreatedAt = time.Unix(createdAt, 0)
	out.UpdatedAt = time.Unix(updatedAt, 0)
	return out, nil
}

// SaveUserSettings inserts or replaces a user's settings row.
func (s *Store) SaveUserSettings(ctx context.Context, settings domain.UserSettings) (domain.UserSettings, error) {
	now := time.Now()
	autoReview := 0
	if settings.AutoReview {
		autoReview = 1
	}
	query := `
		INSERT INTO user_settings (id, user_id, mode, auto_review, max_files, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mode = excluded.mode,
			auto_review = excluded.auto_review,
			max_files = excluded.max_files,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		settings.ID, settings.UserID, string(settings.Mode), autoReview,
		settings.MaxFiles, now.Unix(), now.Unix())
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("save user settings: %w", err)
	}
	return s.GetUserSettings(ctx, settings.UserID)
}

// UpsertRepository inserts a repository or refreshes its mutable fields,
// keyed on github_id.
func (s *Store) UpsertRepository(ctx context.Context, repo domain.Repository) (domain.Repository, error) {
	now := time.Now()
	query := `
		INSERT INTO repositories (id, github_id, user_id, name, full_name, private, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET
			name = excluded.name,
			full_name = excluded.full_name,
			private = excluded.private,
			updated_at = excluded.updated_at
	`
	private := 0
	if repo.Private {
		private = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		repo.ID, repo.GitHubID, repo.UserID, repo.Name, repo.FullName, private,
		now.Unix(), now.Unix())
	if err != nil {
		return domain.Repository{}, fmt.Errorf("upsert repository: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, github_id, user_id, name, full_name, private, created_at, updated_at
		FROM repositories WHERE github_id = ?`, repo.GitHubID)
	return scanRepository(row)
}

// GetRepository returns a repository by id.
func (s *Store) GetRepository(ctx context.Context, id string) (domain.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, github_id, user_id, name, full_name, private, created_at, updated_at
		FROM repositories WHERE id = ?`, id)
	out, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Repository{}, store.ErrNotFound
	}
	return out, err
}

// DeleteRepository removes a repository; pull requests, reviews, and
// findings under it go with it via schema-level cascades.
func (s *Store) DeleteRepository(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	return nil
}

func scanRepository(row *sql.Row) (domain.Repository, error) {
	var out domain.Repository
	var private int
	var createdAt, updatedAt int64
	err := row.Scan(&out.ID, &out.GitHubID, &out.UserID, &out.Name, &out.FullName,
		&private, &createdAt, &updatedAt)
	if err != nil {
		return domain.Repository{}, err
	}
	out.Private = private != 0
	out.CreatedAt = time.Unix(createdAt, 0)
	out.UpdatedAt = time.Unix(updatedAt, 0)
	return out, nil
}

// UpsertPullRequest inserts a pull request or refreshes its mutable
// fields (title, branch, files changed), keyed on github_id.
func (s *Store) UpsertPullRequest(ctx context.Context, pr domain.PullRequest) (domain.PullRequest, error) {
	now := time.Now()
	query := `
		INSERT INTO pull_requests (id, github_id, repository_id, number, title, author, branch, files_changed, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET
			title = excluded.title,
			branch = excluded.branch,
			files_changed = excluded.files_changed,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		pr.ID, pr.GitHubID, pr.RepositoryID, pr.Number, pr.Title, pr.Author,
		pr.Branch, pr.FilesChanged, string(pr.Status), now.Unix(), now.Unix())
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("upsert pull request: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, github_id, repository_id, number, title, author, branch, files_changed, status, created_at, updated_at
		FROM pull_requests WHERE github_id = ?`, pr.GitHubID)

	var out domain.PullRequest
	var createdAt, updatedAt int64
	err = row.Scan(&out.ID, &out.GitHubID, &out.RepositoryID, &out.Number, &out.Title,
		&out.Author, &out.Branch, &out.FilesChanged, &out.Status, &createdAt, &updatedAt)
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("read pull request: %w", err)
	}
	out.CreatedAt = time.Unix(createdAt, 0)
	out.UpdatedAt = time.Unix(updatedAt, 0)
	return out, nil
}

// UpdatePullRequestStatus sets the status of a pull request.
func (s *Store) UpdatePullRequestStatus(ctx context.Context, id string, status domain.PullRequestStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update pull request status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateReview stores a new review.
func (s *Store) CreateReview(ctx context.Context, review domain.Review) error {
	query := `
		INSERT INTO reviews (id, pull_request_id, target_key, mode, status, started_at, completed_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		review.ID, nullString(review.PullRequestID), review.TargetKey,
		string(review.Mode), string(review.Status),
		nullTime(review.StartedAt), nullTime(review.CompletedAt),
		review.DurationMS, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// GetReview returns a review by id.
func (s *Store) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := s.db.QueryRowContext(ctx, selectReview+` WHERE id = ?`, id)
	return scanReview(row)
}

// GetReviewByTargetKey returns the most recent review for an idempotency
// key, or store.ErrNotFound if the target has never been reviewed.
func (s *Store) GetReviewByTargetKey(ctx context.Context, targetKey string) (domain.Review, error) {
	row := s.db.QueryRowContext(ctx,
		selectReview+` WHERE target_key = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, targetKey)
	return scanReview(row)
}

const selectReview = `
	SELECT id, pull_request_id, target_key, mode, status, started_at, completed_at, duration_ms, created_at
	FROM reviews`

func scanReview(row *sql.Row) (domain.Review, error) {
	var out domain.Review
	var prID sql.NullString
	var startedAt, completedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&out.ID, &prID, &out.TargetKey, &out.Mode, &out.Status,
		&startedAt, &completedAt, &out.DurationMS, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Review{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Review{}, fmt.Errorf("read review: %w", err)
	}

	out.PullRequestID = prID.String
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		out.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		out.CompletedAt = &t
	}
	out.CreatedAt = time.Unix(createdAt, 0)
	return out, nil
}

// StartReview transitions a review to IN_PROGRESS and records startedAt.
func (s *Store) StartReview(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, domain.ReviewInProgress,
		`UPDATE reviews SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(domain.ReviewInProgress), at.Unix(), id, string(domain.ReviewPending))
}

// CompleteReview transitions a review to COMPLETED.
func (s *Store) CompleteReview(ctx context.Context, id string, at time.Time, durationMS int64) error {
	return s.transition(ctx, id, domain.ReviewCompleted,
		`UPDATE reviews SET status = ?, completed_at = ?, duration_ms = ? WHERE id = ? AND status = ?`,
		string(domain.ReviewCompleted), at.Unix(), durationMS, id, string(domain.ReviewInProgress))
}

// FailReview transitions a review to FAILED.
func (s *Store) FailReview(ctx context.Context, id string, at time.Time, durationMS int64) error {
	return s.transition(ctx, id, domain.ReviewFailed,
		`UPDATE reviews SET status = ?, completed_at = ?, duration_ms = ? WHERE id = ? AND status IN (?, ?)`,
		string(domain.ReviewFailed), at.Unix(), durationMS, id,
		string(domain.ReviewPending), string(domain.ReviewInProgress))
}

// transition runs a guarded status update. The WHERE clause encodes the
// legal source states, so an update matching zero rows means the review
// either does not exist or sits in a terminal state.
func (s *Store) transition(ctx context.Context, id string, to domain.ReviewStatus, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition review %s to %s: %w", id, to, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("transition review %s to %s: %w", id, to, store.ErrNotFound)
	}
	return nil
}

// SaveFindings stores findings and their resource URLs in one transaction.
func (s *Store) SaveFindings(ctx context.Context, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (id, review_id, type, severity, file, line, code, message, explanation, suggestion, comment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare findings insert: %w", err)
	}
	defer stmt.Close()

	resStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO finding_resources (finding_id, url) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare resources insert: %w", err)
	}
	defer resStmt.Close()

	now := time.Now().Unix()
	for _, f := range findings {
		_, err := stmt.ExecContext(ctx,
			f.ID, f.ReviewID, string(f.Type), string(f.Severity), f.File, f.Line,
			f.Code, f.Message, f.Explanation, f.Suggestion, f.CommentID, now)
		if err != nil {
			return fmt.Errorf("insert finding %s: %w", f.ID, err)
		}
		for _, url := range f.Resources {
			if _, err := resStmt.ExecContext(ctx, f.ID, url); err != nil {
				return fmt.Errorf("insert finding resource: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetFindingsByReview returns all findings for a review in insertion order.
func (s *Store) GetFindingsByReview(ctx context.Context, reviewID string) ([]domain.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, type, severity, file, line, code, message, explanation, suggestion, comment_id, created_at
		FROM findings WHERE review_id = ? ORDER BY rowid`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var f domain.Finding
		var createdAt int64
		err := rows.Scan(&f.ID, &f.ReviewID, &f.Type, &f.Severity, &f.File, &f.Line,
			&f.Code, &f.Message, &f.Explanation, &f.Suggestion, &f.CommentID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.CreatedAt = time.Unix(createdAt, 0)

		resources, err := s.findingResources(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		f.Resources = resources

		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (s *Store) findingResources(ctx context.Context, findingID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM finding_resources WHERE finding_id = ? ORDER BY rowid`, findingID)
	if err != nil {
		return nil, fmt.Errorf("query finding resources: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// AttachCommentID records the GitHub comment id on all findings of a
// review after a successful publish.
func (s *Store) AttachCommentID(ctx context.Context, reviewID string, commentID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE findings SET comment_id = ? WHERE review_id = ?`, commentID, reviewID)
	if err != nil {
		return fmt.Errorf("attach comment id: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
