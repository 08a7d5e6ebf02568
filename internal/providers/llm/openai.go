// Package llm serves the text job kinds through an OpenAI-compatible chat
// completion API that answers in JSON.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 90 * time.Second
	keyName        = "openai"
)

var modelCanonical = map[string]string{
	"gpt-3.5-turbo": "gpt-3.5-turbo",
	"gpt-4o-mini":   "gpt-4o-mini",
	"gpt-4o":        "gpt-4o",
}

var modelAliases = map[string]string{
	"gpt-3.5":                "gpt-3.5-turbo",
	"gpt3.5":                 "gpt-3.5-turbo",
	"gpt-35-turbo":           "gpt-3.5-turbo",
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4o":                  "gpt-4o",
}

// KeyResolver yields the current API key, falling back to the configured one.
type KeyResolver interface {
	Resolve(ctx context.Context, provider, fallback string) (string, error)
}

type Options struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Keys         KeyResolver
	OnWarning    func(reason, detail string)
}

// OpenAI implements engine.Provider for market_analysis and product_discovery.
type OpenAI struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	client       *http.Client
	keys         KeyResolver
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewOpenAI(opts Options) *OpenAI {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	requested := strings.TrimSpace(opts.Model)
	model, reason := normalizeModel(requested)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", coalesce(requested, defaultModel), model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &OpenAI{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		keys:         opts.Keys,
	}
}

func (o *OpenAI) Invoke(ctx context.Context, req engine.Request) (engine.Result, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return engine.Result{}, err
	}
	apiKey, err := o.key(ctx)
	if err != nil {
		return engine.Result{}, err
	}

	payload := chatRequest{
		Model:          o.model,
		Temperature:    0.4,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return engine.Result{}, fmt.Errorf("openai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", &buf)
	if err != nil {
		return engine.Result{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return engine.Result{}, fmt.Errorf("openai: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var out chatResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out)
	if resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			return engine.Result{}, fmt.Errorf("openai status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return engine.Result{}, fmt.Errorf("openai status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return engine.Result{}, fmt.Errorf("openai: decode response: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return engine.Result{}, errors.New("openai: no choices")
	}
	fragment := extractJSONFragment(out.Choices[0].Message.Content)
	if fragment == "" {
		return engine.Result{}, domain.ErrEmptyResult
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(fragment), &object); err != nil {
		return engine.Result{}, fmt.Errorf("openai: parse payload: %w", err)
	}
	if len(object) == 0 {
		return engine.Result{}, domain.ErrEmptyResult
	}
	return engine.Result{Payload: json.RawMessage(fragment)}, nil
}

func (o *OpenAI) key(ctx context.Context) (string, error) {
	key := o.apiKey
	if o.keys != nil {
		resolved, err := o.keys.Resolve(ctx, keyName, o.apiKey)
		if err != nil {
			return "", err
		}
		key = resolved
	}
	if key == "" {
		return "", errors.New("openai api key is not configured")
	}
	return key, nil
}

func normalizeModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := modelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := modelAliases[normalized]; ok {
		return alias, "alias"
	}
	return defaultModel, "defaulted"
}

var _ engine.Provider = (*OpenAI)(nil)
