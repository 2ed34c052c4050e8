package github

// commentRequest is the body for commit and issue comment creation.
type commentRequest struct {
	Body string `json:"body"`
}

// commentResponse is the subset of the created-comment response we use.
type commentResponse struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

// apiError is the standard GitHub error body.
type apiError struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}
