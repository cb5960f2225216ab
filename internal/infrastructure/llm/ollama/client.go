package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/recovery-tracker/internal/core/domain"
	"github.com/kirillkom/recovery-tracker/internal/infrastructure/resilience"
)

const operationGenerate = "ollama_generate"

// Malformed answers and 4xx are not retried; the extractor falls back to the
// rules for them.
var generateErrors = resilience.HTTPClassifier{RetryStatus: resilience.RetryableStatus}

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

// GenerateJSONFromPrompt asks the model for a JSON answer and returns the
// outermost JSON object found in it.
func (c *Client) GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "generate json", errors.New("empty prompt"))
	}
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	text, err := c.generate(ctx, reqBody)
	if err != nil {
		return "", err
	}
	return extractJSONObject(text), nil
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	err := c.executor.Execute(ctx, operationGenerate, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	}, generateErrors.Classify)
	if err != nil {
		if !domain.IsKind(err, domain.ErrTemporary) && generateErrors.Classify(err).Retryable {
			return "", domain.WrapError(domain.ErrTemporary, operationGenerate, err)
		}
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
