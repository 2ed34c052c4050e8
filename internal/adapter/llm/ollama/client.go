package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	llmhttp "github.com/openreview/openreview/internal/adapter/llm/http"
)

const (
	providerName = "ollama"

	// Local models can be slow, so the default timeout is generous.
	defaultTimeout = 120 * time.Second
)

// Sampling holds the generation parameters sent with every request.
type Sampling struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// DefaultSampling returns parameters biased toward deterministic,
// focused review output.
func DefaultSampling() Sampling {
	return Sampling{
		Temperature: 0.2,
		TopP:        0.9,
		TopK:        40,
		MaxTokens:   2048,
	}
}

// HTTPClient is an HTTP client for the Ollama Generate API.
type HTTPClient struct {
	baseURL   string
	model     string
	client    *http.Client
	retryConf llmhttp.RetryConfig
	sampling  Sampling
	logger    llmhttp.Logger
}

// NewHTTPClient creates a new Ollama HTTP client with default timeout,
// retry, and sampling settings.
func NewHTTPClient(baseURL, model string) *HTTPClient {
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		client:    &http.Client{Timeout: defaultTimeout},
		retryConf: llmhttp.DefaultRetryConfig(),
		sampling:  DefaultSampling(),
	}
}

// SetTimeout sets the HTTP timeout.
func (c *HTTPClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// SetRetryConfig overrides the retry policy.
func (c *HTTPClient) SetRetryConfig(conf llmhttp.RetryConfig) {
	c.retryConf = conf
}

// SetSampling overrides the generation parameters.
func (c *HTTPClient) SetSampling(s Sampling) {
	c.sampling = s
}

// SetLogger attaches a structured logger for request/response logging.
func (c *HTTPClient) SetLogger(logger llmhttp.Logger) {
	c.logger = logger
}

// Generate sends a prompt to the Ollama Generate API and returns the raw
// model output. Transient failures (network errors, timeouts, 5xx) are
// retried with exponential backoff; 4xx responses fail immediately.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": c.sampling.Temperature,
			"top_p":       c.sampling.TopP,
			"top_k":       c.sampling.TopK,
			"num_predict": c.sampling.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/api/generate"
	start := time.Now()

	if c.logger != nil {
		c.logger.LogRequest(ctx, llmhttp.RequestLog{
			Provider:    providerName,
			Model:       c.model,
			Timestamp:   start,
			PromptChars: len(prompt),
		})
	}

	var bodyBytes []byte
	var statusCode int

	err = llmhttp.RetryWithBackoff(ctx, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if reqErr != nil {
			return &llmhttp.Error{
				Type:      llmhttp.ErrTypeUnknown,
				Message:   reqErr.Error(),
				Retryable: false,
				Provider:  providerName,
			}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, callErr := c.client.Do(req)
		if callErr != nil {
			if strings.Contains(callErr.Error(), "connection refused") {
				return llmhttp.NewTransportError(providerName,
					fmt.Sprintf("Ollama server not reachable at %s. Is Ollama running? Error: %s", c.baseURL, callErr.Error()))
			}
			return llmhttp.NewTimeoutError(providerName, callErr.Error())
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return llmhttp.NewTransportError(providerName, readErr.Error())
		}

		if resp.StatusCode >= 400 {
			return c.errorFromResponse(resp.StatusCode, body)
		}

		bodyBytes = body
		return nil
	}, c.retryConf)

	if err != nil {
		if c.logger != nil {
			c.logger.LogError(ctx, llmhttp.ErrorLog{
				Provider:   providerName,
				Model:      c.model,
				Timestamp:  time.Now(),
				Duration:   time.Since(start),
				Error:      err,
				StatusCode: statusCode,
				Retryable:  llmhttp.ShouldRetry(err),
			})
		}
		return "", err
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(bodyBytes, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if !genResp.Done {
		return "", fmt.Errorf("incomplete response from Ollama (done=false)")
	}
	if genResp.Response == "" {
		return "", fmt.Errorf("empty response from Ollama")
	}

	if c.logger != nil {
		c.logger.LogResponse(ctx, llmhttp.ResponseLog{
			Provider:   providerName,
			Model:      genResp.Model,
			Timestamp:  time.Now(),
			Duration:   time.Since(start),
			TokensIn:   genResp.PromptEvalCount,
			TokensOut:  genResp.EvalCount,
			StatusCode: statusCode,
		})
	}

	return genResp.Response, nil
}

// errorFromResponse maps an Ollama error body to a typed error.
func (c *HTTPClient) errorFromResponse(statusCode int, body []byte) error {
	message := ""

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	}

	if statusCode == http.StatusNotFound {
		if message == "" {
			message = fmt.Sprintf("HTTP %d", statusCode)
		}
		return &llmhttp.Error{
			Type:       llmhttp.ErrTypeNotFound,
			Message:    fmt.Sprintf("%s. Pull it with: ollama pull %s", message, c.model),
			StatusCode: statusCode,
			Retryable:  false,
			Provider:   providerName,
		}
	}

	return llmhttp.FromStatusCode(providerName, statusCode, message)
}
