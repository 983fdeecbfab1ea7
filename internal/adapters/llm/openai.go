// Package llm provides the OpenAI-compatible chat-completion adapter.
// Groq and Cerebras both expose this API shape, so one adapter serves both
// providers; only base URL and key differ.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docbot/internal/domain/ports"
)

// OpenAIClient implements ports.ModelClient against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIClient creates a client. baseURL defaults to the Groq endpoint.
func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 300 * time.Second, // generation streams can run long
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete issues one blocking chat-completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", req.Model)
	}
	return out.Choices[0].Message.Content, nil
}

// CompleteStream issues a streaming chat-completion request and relays the
// delta tokens. SSE framing ("data: {...}" lines, "data: [DONE]" sentinel).
func (c *OpenAIClient) CompleteStream(ctx context.Context, req ports.ModelRequest) (<-chan ports.StreamToken, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan ports.StreamToken, 100)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		// Sends must never block past cancellation: an abandoned consumer
		// would otherwise strand this goroutine and the provider connection.
		send := func(tok ports.StreamToken) bool {
			select {
			case ch <- tok:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				send(ports.StreamToken{Done: true, Err: ctx.Err()})
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				send(ports.StreamToken{Done: true})
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue // skip malformed frames
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !send(ports.StreamToken{Content: choice.Delta.Content}) {
					return
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				send(ports.StreamToken{Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(ports.StreamToken{Done: true, Err: err})
			return
		}
		send(ports.StreamToken{Done: true})
	}()
	return ch, nil
}

func (c *OpenAIClient) post(ctx context.Context, req ports.ModelRequest, stream bool) (*http.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{Model: req.Model, Messages: messages, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling model %s: %w", req.Model, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		snippet := readSnippet(resp.Body)
		resp.Body.Close()
		return nil, &ports.RateLimitError{Model: req.Model, StatusCode: resp.StatusCode, Message: snippet}
	}
	if resp.StatusCode != http.StatusOK {
		snippet := readSnippet(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("model %s returned status %d: %s", req.Model, resp.StatusCode, snippet)
	}
	return resp, nil
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
