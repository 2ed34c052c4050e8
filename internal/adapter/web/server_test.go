package web_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreview/openreview/internal/adapter/web"
)

func startServer(t *testing.T) (string, *fakePipeline) {
	t.Helper()

	pipeline := &fakePipeline{}
	server := web.NewServer("127.0.0.1:0", web.NewWebhookHandler(webhookSecret, pipeline, nil))
	require.NoError(t, server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return "http://" + server.Addr(), pipeline
}

func TestServer_Healthz(t *testing.T) {
	base, _ := startServer(t)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestServer_WebhookRoute(t *testing.T) {
	base, pipeline := startServer(t)
	payload := prOpenedPayload()

	req, err := http.NewRequest(http.MethodPost, base+"/api/webhook", strings.NewReader(string(payload)))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-Hub-Signature-256", sign(payload, webhookSecret))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, pipeline.calls)
}

func TestServer_UnknownRoute(t *testing.T) {
	base, _ := startServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/nope", base))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
