// Package imagegen serves image_compose jobs through the DashScope Qwen image
// edit API.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
)

const (
	defaultBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	defaultModel   = "qwen-image-edit"
	keyName        = "qwen"
)

// KeyResolver yields the current API key, falling back to the configured one.
type KeyResolver interface {
	Resolve(ctx context.Context, provider, fallback string) (string, error)
}

type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Keys       KeyResolver
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Composer edits each input image with one instruction and returns the
// resulting image URLs as artifacts.
type Composer struct {
	httpClient *http.Client
	baseURL    string
	model      string
	token      string
	keys       KeyResolver
}

func NewComposer(opts Options) *Composer {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Composer{
		httpClient: client,
		baseURL:    base,
		model:      model,
		token:      strings.TrimSpace(opts.APIKey),
		keys:       opts.Keys,
	}
}

// ComposeInput is the image_compose job input.
type ComposeInput struct {
	Images         []string `json:"images"`
	Title          string   `json:"title"`
	ProductType    string   `json:"product_type"`
	Style          string   `json:"style"`
	Background     string   `json:"background"`
	Instructions   string   `json:"instructions"`
	AspectRatio    string   `json:"aspect_ratio"`
	NegativePrompt string   `json:"negative_prompt"`
	Watermark      bool     `json:"watermark"`
	Seed           *int     `json:"seed"`
}

type qwenContent struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []qwenMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		NegativePrompt string `json:"negative_prompt,omitempty"`
		Watermark      bool   `json:"watermark"`
		Seed           *int   `json:"seed,omitempty"`
	} `json:"parameters"`
}

type qwenResp struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []map[string]string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Composer) Invoke(ctx context.Context, req engine.Request) (engine.Result, error) {
	if req.Kind != domain.JobKindImageCompose {
		return engine.Result{}, fmt.Errorf("imagegen does not serve %s", req.Kind)
	}
	var in ComposeInput
	if err := json.Unmarshal(req.Input, &in); err != nil {
		return engine.Result{}, fmt.Errorf("decode compose input: %w", err)
	}
	if len(in.Images) == 0 {
		return engine.Result{}, errors.New("qwen: no input images")
	}
	token, err := c.key(ctx)
	if err != nil {
		return engine.Result{}, err
	}

	instruction := BuildInstruction(in)
	artifacts := make([]engine.Artifact, 0, len(in.Images))
	for i, img := range in.Images {
		url, err := c.EditOnce(ctx, token, img, instruction, in.Watermark, in.NegativePrompt, in.Seed)
		if err != nil {
			return engine.Result{}, fmt.Errorf("edit image %d: %w", i+1, err)
		}
		ext := extension(url)
		artifacts = append(artifacts, engine.Artifact{
			Name: fmt.Sprintf("compose-%d%s", i+1, ext),
			MIME: mimeTypes[ext],
			URL:  url,
		})
	}
	payload, err := json.Marshal(map[string]any{"instruction": instruction, "model": c.model})
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Payload: payload, Artifacts: artifacts}, nil
}

// EditOnce sends one image edit request and returns the output image URL.
func (c *Composer) EditOnce(ctx context.Context, token, imageURL, instruction string, watermark bool, negative string, seed *int) (string, error) {
	trimmed := strings.TrimSpace(imageURL)
	if trimmed == "" {
		return "", errors.New("qwen: image url required")
	}
	var payload qwenRequest
	payload.Model = c.model
	payload.Input.Messages = []qwenMessage{{
		Role: "user",
		Content: []qwenContent{
			{Image: trimmed},
			{Text: instruction},
		},
	}}
	payload.Parameters.Watermark = watermark
	payload.Parameters.NegativePrompt = strings.TrimSpace(negative)
	payload.Parameters.Seed = seed

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out qwenResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("qwen: http %d", resp.StatusCode)
		}
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return "", fmt.Errorf("qwen error: %s (%s)", out.Message, out.Code)
		}
		return "", fmt.Errorf("qwen: http %d", resp.StatusCode)
	}
	if len(out.Output.Choices) == 0 || len(out.Output.Choices[0].Message.Content) == 0 {
		if out.Message != "" {
			return "", fmt.Errorf("qwen error: %s (%s)", out.Message, out.Code)
		}
		return "", domain.ErrEmptyResult
	}
	url := strings.TrimSpace(out.Output.Choices[0].Message.Content[0]["image"])
	if url == "" {
		return "", domain.ErrEmptyResult
	}
	return url, nil
}

func (c *Composer) key(ctx context.Context) (string, error) {
	key := c.token
	if c.keys != nil {
		resolved, err := c.keys.Resolve(ctx, keyName, c.token)
		if err != nil {
			return "", err
		}
		key = resolved
	}
	if key == "" {
		return "", errors.New("qwen: API key is missing")
	}
	return key, nil
}

var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

func extension(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	ext := strings.ToLower(path.Ext(url))
	if _, ok := mimeTypes[ext]; ok {
		return ext
	}
	return ".png"
}

var _ engine.Provider = (*Composer)(nil)
