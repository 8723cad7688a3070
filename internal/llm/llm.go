package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/mockexam/internal/llm/prompts"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/scoring"
)

// ErrEmptyExplanation is returned when the model answers without text.
var ErrEmptyExplanation = errors.New("LLM returned an empty explanation")

type explanation struct {
	Explanation string `json:"explanation"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
	style prompts.Style
}

// New creates a new LLM client. An empty style selects the brief prompt.
func New(baseURL, apiKey, modelName, style string) (*Client, error) {
	if style == "" {
		style = string(prompts.StyleBrief)
	}
	if !prompts.IsValidStyle(style) {
		return nil, fmt.Errorf("invalid explanation style %q (use brief or detailed)", style)
	}
	if err := prompts.Load(); err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
		style: prompts.Style(style),
	}, nil
}

// Ping checks that the API endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM list models: %w", err)
	}
	return nil
}

// Explain asks the model why q's correct options are correct, given what
// the candidate selected.
func (c *Client) Explain(ctx context.Context, q model.Question, sel model.Selection) (string, error) {
	points, _ := scoring.Score(q, sel)
	prompt, err := prompts.BuildExplainPrompt(c.style, q, sel, points)
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", q.ID, "raw", raw)
	return parseExplanation(raw)
}

// parseExplanation accepts the JSON object the prompt asks for and falls
// back to the raw text when the model ignores the format.
func parseExplanation(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var e explanation
	if err := json.Unmarshal([]byte(raw), &e); err == nil {
		raw = strings.TrimSpace(e.Explanation)
	}
	if raw == "" {
		return "", ErrEmptyExplanation
	}
	return raw, nil
}
