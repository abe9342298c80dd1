package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/hyperjump/callscope/internal/models"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request. Temperature is always sent, so zero means
// greedy decoding rather than the server default.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// ChatCompletion returns the trimmed content of the first choice.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	var resp chatResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &models.ExternalServiceError{
			Service: c.service,
			Op:      "/chat/completions",
			Err:     errors.New("response has no choices"),
		}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
