package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/config"
)

// LLMMessage is one message sent to the completion endpoint
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces assistant replies
type Completer interface {
	Complete(ctx context.Context, messages []LLMMessage) (string, error)
	// Stream calls onDelta for every content delta until the reply ends,
	// onDelta fails or ctx is done.
	Stream(ctx context.Context, messages []LLMMessage, onDelta func(string) error) error
}

// Client calls an OpenAI-compatible /chat/completions endpoint. Both
// providers (openai and deepseek) speak this protocol.
type Client struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient builds a client for the active provider of cfg
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	provider, p, err := cfg.Active()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Model) == "" {
		return nil, fmt.Errorf("%s model required", provider)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		provider:    provider,
		baseURL:     strings.TrimRight(strings.TrimSpace(p.URL), "/"),
		apiKey:      strings.TrimSpace(p.APIKey),
		model:       strings.TrimSpace(p.Model),
		temperature: cfg.Temperature,
		timeout:     timeout,
		httpClient:  &http.Client{},
		logger:      logger.With(zap.String("provider", provider)),
	}, nil
}

// Provider returns the provider name
func (c *Client) Provider() string { return c.provider }

type completionRequest struct {
	Model       string       `json:"model"`
	Messages    []LLMMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	Stream      bool         `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message LLMMessage `json:"message"`
		Delta   struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// withTimeout bounds ctx by the client timeout unless it has a deadline
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) post(ctx context.Context, messages []LLMMessage, stream bool) (*http.Response, error) {
	body, err := json.Marshal(completionRequest{
		Model: c.model, Messages: messages, Temperature: c.temperature, Stream: stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.provider, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var errResp completionResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("%s api error: %s", c.provider, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%s api error: %s", c.provider, resp.Status)
	}
	return resp, nil
}

// Complete returns the full reply to messages
func (c *Client) Complete(ctx context.Context, messages []LLMMessage) (string, error) {
	start := time.Now()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s decode: %w", c.provider, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", c.provider)
	}
	c.logger.Debug("completion received", zap.Duration("took", time.Since(start)))
	return out.Choices[0].Message.Content, nil
}

// Stream reads the server-sent event stream of a streaming completion
func (c *Client) Stream(ctx context.Context, messages []LLMMessage, onDelta func(string) error) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("%s stream error: %s", c.provider, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return fmt.Errorf("%s stream error: %w", c.provider, err)
	}
	return ctx.Err()
}
