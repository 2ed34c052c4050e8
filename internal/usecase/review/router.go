package review

import (
	"encoding/json"
	"fmt"

	"github.com/openreview/openreview/internal/domain"
)

// TargetKind distinguishes the two reviewable target types.
type TargetKind int

const (
	// TargetCommit reviews the head commit of a push.
	TargetCommit TargetKind = iota
	// TargetPullRequest reviews a pull request's cumulative diff.
	TargetPullRequest
)

// Intent describes a single in-scope review request extracted from a
// webhook payload. A nil Intent from Route means the event is out of
// scope and nothing should happen.
type Intent struct {
	Kind TargetKind

	RepoGitHubID  int64
	RepoName      string
	RepoFullName  string
	RepoPrivate   bool
	OwnerGitHubID int64
	OwnerLogin    string

	// Pull request fields, set when Kind == TargetPullRequest.
	PRGitHubID   int64
	PRNumber     int
	Title        string
	Author       string
	Branch       string
	FilesChanged int

	// Commit fields, set when Kind == TargetCommit.
	CommitSHA string
}

// TargetKey returns the idempotency key for this intent. Redelivered
// webhook events for the same target map to the same key.
func (i *Intent) TargetKey() string {
	if i.Kind == TargetPullRequest {
		return fmt.Sprintf("%s#pr-%d", i.RepoFullName, i.PRNumber)
	}
	return fmt.Sprintf("%s#sha-%s", i.RepoFullName, i.CommitSHA)
}

type repositoryPayload struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	Owner    struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	} `json:"owner"`
}

type pushPayload struct {
	After      string             `json:"after"`
	Repository *repositoryPayload `json:"repository"`
	Commits    []struct {
		ID string `json:"id"`
	} `json:"commits"`
}

type pullRequestPayload struct {
	Action     string             `json:"action"`
	Number     int                `json:"number"`
	Repository *repositoryPayload `json:"repository"`
	PR         *struct {
		ID           int64  `json:"id"`
		Title        string `json:"title"`
		ChangedFiles int    `json:"changed_files"`
		User         struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

// Route dispatches a verified webhook payload to a review intent.
//
// Only push and pull_request events are in scope, and pull_request only
// for the opened and synchronize actions; everything else returns
// (nil, nil). Payloads missing required fields return a
// domain.ErrMalformedEvent so callers can tell "nothing to do" apart
// from bad input. Route is a pure function of its arguments.
func Route(eventType string, payload []byte) (*Intent, error) {
	switch eventType {
	case "push":
		return routePush(payload)
	case "pull_request":
		return routePullRequest(payload)
	default:
		return nil, nil
	}
}

func routePush(payload []byte) (*Intent, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if p.Repository == nil || p.Repository.FullName == "" {
		return nil, fmt.Errorf("%w: push event missing repository", domain.ErrMalformedEvent)
	}
	if len(p.Commits) == 0 {
		return nil, fmt.Errorf("%w: push event has no commits", domain.ErrMalformedEvent)
	}

	// Review the last commit in the push; "after" is the same sha unless
	// the payload was truncated.
	sha := p.Commits[len(p.Commits)-1].ID
	if sha == "" {
		sha = p.After
	}
	if sha == "" {
		return nil, fmt.Errorf("%w: push event missing commit sha", domain.ErrMalformedEvent)
	}

	return &Intent{
		Kind:          TargetCommit,
		RepoGitHubID:  p.Repository.ID,
		RepoName:      p.Repository.Name,
		RepoFullName:  p.Repository.FullName,
		RepoPrivate:   p.Repository.Private,
		OwnerGitHubID: p.Repository.Owner.ID,
		OwnerLogin:    p.Repository.Owner.Login,
		CommitSHA:     sha,
	}, nil
}

func routePullRequest(payload []byte) (*Intent, error) {
	var p pullRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if p.Action == "" {
		return nil, fmt.Errorf("%w: pull_request event missing action", domain.ErrMalformedEvent)
	}

	// Review on open and on new commits only. Closed, labeled, edited and
	// the rest are intentionally out of scope.
	if p.Action != "opened" && p.Action != "synchronize" {
		return nil, nil
	}

	if p.Repository == nil || p.Repository.FullName == "" {
		return nil, fmt.Errorf("%w: pull_request event missing repository", domain.ErrMalformedEvent)
	}
	if p.PR == nil || p.Number == 0 {
		return nil, fmt.Errorf("%w: pull_request event missing pull request", domain.ErrMalformedEvent)
	}

	return &Intent{
		Kind:          TargetPullRequest,
		RepoGitHubID:  p.Repository.ID,
		RepoName:      p.Repository.Name,
		RepoFullName:  p.Repository.FullName,
		RepoPrivate:   p.Repository.Private,
		OwnerGitHubID: p.Repository.Owner.ID,
		OwnerLogin:    p.Repository.Owner.Login,
		PRGitHubID:    p.PR.ID,
		PRNumber:      p.Number,
		Title:         p.PR.Title,
		Author:        p.PR.User.Login,
		Branch:        p.PR.Head.Ref,
		FilesChanged:  p.PR.ChangedFiles,
	}, nil
}
