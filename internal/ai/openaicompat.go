package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/znz-systems/mailpilot/internal/models"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	openAIModel   = "gpt-4o-mini"
)

// OpenAICompat targets any OpenAI-compatible chat/completions endpoint.
type OpenAICompat struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

func NewOpenAICompat(apiKey, baseURL, model string, maxTokens int, httpClient *http.Client) *OpenAICompat {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if model == "" {
		model = openAIModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAICompat{
		apiKey:    strings.TrimSpace(apiKey),
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:     model,
		maxTokens: maxTokens,
		client:    httpClient,
	}
}

func (o *OpenAICompat) GenerateReply(ctx context.Context, thread *models.Thread, hint string) (string, error) {
	return generateReply(ctx, o, o.maxTokens, thread, hint)
}

func (o *OpenAICompat) Classify(ctx context.Context, thread *models.Thread) (bool, error) {
	return classify(ctx, o, thread)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAICompat) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling chat completions: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var result chatResponse
	decodeErr := json.Unmarshal(respBody, &result)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && result.Error != nil && result.Error.Message != "" {
			return "", fmt.Errorf("chat completions error (%d): %s", resp.StatusCode, result.Error.Message)
		}
		return "", fmt.Errorf("chat completions error (%d): %s", resp.StatusCode, string(respBody))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decoding response: %w", decodeErr)
	}
	if len(result.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return result.Choices[0].Message.Content, nil
}
