package openai

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

	"ContentCrew/internal/llm"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModelName    = "gpt-4o-mini"
	defaultTimeout      = 60 * time.Second
	defaultRetries      = 2
	defaultRetryBackoff = 1500 * time.Millisecond
	maxErrorBodySize    = 2048
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	// Retries 为 0 时使用默认值，负数表示不重试。
	Retries      int
	RetryBackoff time.Duration
	Temperature  *float64
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	retries      int
	retryBackoff time.Duration
	temperature  *float64
	httpClient   *http.Client
}

// StatusError 表示 OpenAI 返回了非 2xx 状态。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("OpenAI 返回错误状态 %d: %s", e.StatusCode, e.Body)
}

// Retryable 判断该状态是否值得重试。
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultRetries
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		model:        model,
		retries:      retries,
		retryBackoff: backoff,
		temperature:  cfg.Temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Model 返回实际使用的模型名称。
func (c *Client) Model() string {
	return c.model
}

// Chat 调用 Chat Completions，遇到 429 或 5xx 时按线性退避重试。
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		resp, err := c.chatOnce(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !statusErr.Retryable() || attempt == c.retries+1 {
			break
		}

		wait := time.Duration(attempt) * c.retryBackoff
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c *Client) chatOnce(ctx context.Context, payload []byte) (*llm.ChatResponse, error) {
	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded struct {
		Choices []struct {
			FinishReason string      `json:"finish_reason"`
			Message      llm.Message `json:"message"`
		} `json:"choices"`
		Usage *llm.Usage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	choice := decoded.Choices[0]
	out := &llm.ChatResponse{
		Message:      choice.Message,
		FinishReason: choice.FinishReason,
	}
	if out.Message.Role == "" {
		out.Message.Role = llm.RoleAssistant
	}
	out.Message.Content = strings.TrimSpace(out.Message.Content)
	if decoded.Usage != nil {
		out.Usage = *decoded.Usage
	}
	return out, nil
}

type wireTool struct {
	Type     string         `json:"type"`
	Function llm.ToolSchema `json:"function"`
}

func (c *Client) buildPayload(req llm.ChatRequest) ([]byte, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("OpenAI 请求缺少 messages")
	}

	body := map[string]any{
		"model":    c.model,
		"messages": req.Messages,
	}
	if len(req.Tools) > 0 {
		tools := make([]wireTool, 0, len(req.Tools))
		for _, schema := range req.Tools {
			tools = append(tools, wireTool{Type: "function", Function: schema})
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}
	switch {
	case req.Temperature != nil:
		body["temperature"] = *req.Temperature
	case c.temperature != nil:
		body["temperature"] = *c.temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

var _ llm.Client = (*Client)(nil)
