package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openreview/openreview/internal/adapter/cli"
	githubadapter "github.com/openreview/openreview/internal/adapter/github"
	llmhttp "github.com/openreview/openreview/internal/adapter/llm/http"
	"github.com/openreview/openreview/internal/adapter/llm/ollama"
	"github.com/openreview/openreview/internal/adapter/store/sqlite"
	"github.com/openreview/openreview/internal/adapter/web"
	"github.com/openreview/openreview/internal/config"
	"github.com/openreview/openreview/internal/redaction"
	"github.com/openreview/openreview/internal/usecase/review"
	"github.com/openreview/openreview/internal/version"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := cli.NewRootCommand(cli.Dependencies{
		RunServer: runServer,
		Args: cli.Arguments{
			OutWriter: os.Stdout,
			ErrWriter: os.Stderr,
		},
		Version: version.Version(),
	})

	if err := root.ExecuteContext(ctx); err != nil {
		// Keep tokens out of the process exit message.
		log.Println(llmhttp.RedactURLSecrets(err.Error()))
		os.Exit(1)
	}
}

func runServer(ctx context.Context, configPath, addr string) error {
	var configPaths []string
	if configPath != "" {
		configPaths = append(configPaths, configPath)
	}

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: configPaths,
		FileName:    "openreview",
		EnvPrefix:   "OPENREVIEW",
	})
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := llmhttp.NewDefaultLogger(
		llmhttp.ParseLogLevel(cfg.Observability.Logging.Level),
		llmhttp.ParseLogFormat(cfg.Observability.Logging.Format),
		cfg.Observability.Logging.RedactSecrets,
	)

	st, err := sqlite.NewStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store at %s: %w", cfg.Store.Path, err)
	}
	defer st.Close()

	gh := githubadapter.NewClient(cfg.GitHub.Token)
	if cfg.GitHub.BaseURL != "" {
		gh.SetBaseURL(cfg.GitHub.BaseURL)
	}
	if timeout := parseDuration(cfg.GitHub.Timeout, 30*time.Second); timeout > 0 {
		gh.SetTimeout(timeout)
	}
	gh.SetLogger(logger)

	backend := ollama.NewHTTPClient(cfg.Ollama.BaseURL, cfg.Ollama.Model)
	backend.SetTimeout(parseDuration(cfg.Ollama.Timeout, 120*time.Second))
	backend.SetSampling(ollama.Sampling{
		Temperature: cfg.Ollama.Temperature,
		TopP:        cfg.Ollama.TopP,
		TopK:        cfg.Ollama.TopK,
		MaxTokens:   cfg.Ollama.MaxTokens,
	})
	retryConf := llmhttp.DefaultRetryConfig()
	retryConf.MaxRetries = cfg.Ollama.MaxRetries
	retryConf.InitialBackoff = parseDuration(cfg.Ollama.RetryDelay, time.Second)
	backend.SetRetryConfig(retryConf)
	backend.SetLogger(logger)

	prompts, err := review.NewPromptBuilder()
	if err != nil {
		return err
	}
	engine := review.NewEngine(backend, prompts, logger)

	lifecycle, err := review.NewLifecycle(review.LifecycleDeps{
		Diffs:     gh,
		Reviewer:  engine,
		Publisher: gh,
		Store:     st,
		Redactor:  redaction.NewEngine(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler := web.NewWebhookHandler(cfg.GitHub.WebhookSecret, lifecycle, logger)
	srv := web.NewServer(cfg.Server.Addr, handler)

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}

	logger.LogInfo(ctx, "openreview listening", map[string]interface{}{
		"addr":    srv.Addr(),
		"model":   cfg.Ollama.Model,
		"version": version.Version(),
	})

	return srv.Serve(ctx)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
