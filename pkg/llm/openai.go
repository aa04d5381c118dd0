package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newOpenAICaller(apiKey, model, baseURL string, timeout time.Duration) CallFunc {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, prompt string) (string, error) {
		reqBody := openAIRequest{
			Model: model,
			Messages: []openAIMessage{
				{Role: "user", Content: prompt},
			},
		}

		data, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("marshal request: %w", err)
		}

		target := strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return "", classifyTransportErr(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
		}

		if resp.StatusCode != http.StatusOK {
			return "", classifyStatus(resp.StatusCode, body)
		}

		var result openAIResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("%w: unmarshal response: %v", ErrMalformed, err)
		}

		if result.Error != nil {
			return "", fmt.Errorf("%w: openai error: %s", ErrUnavailable, result.Error.Message)
		}

		if len(result.Choices) == 0 {
			return "", fmt.Errorf("%w: openai returned no choices", ErrMalformed)
		}

		return result.Choices[0].Message.Content, nil
	}
}
