package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/logger"
)

// OpenAIChatClient 兼容 OpenAI / DeepSeek / Qwen 的 /chat/completions 接口。
type OpenAIChatClient struct {
	id           string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
}

// NewFromConfig 按 judgment 配置构建客户端。
func NewFromConfig(cfg config.JudgmentConfig) *OpenAIChatClient {
	return &OpenAIChatClient{
		id:      "openai:" + strings.TrimSpace(cfg.Model),
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (c *OpenAIChatClient) ID() string    { return c.id }
func (c *OpenAIChatClient) Enabled() bool { return c != nil && strings.TrimSpace(c.APIKey) != "" }

func (c *OpenAIChatClient) endpoint() string {
	url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	// 配置里可能已经带了 /chat/completions
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

// Call 单次请求，超时取 ctx 与 Timeout 中较早者。
func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	messages := make([]map[string]string, 0, 2)
	if payload.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": payload.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": payload.User})
	body := map[string]any{"model": c.Model, "messages": messages, "temperature": payload.Temperature}
	if payload.MaxTokens > 0 {
		body["max_tokens"] = payload.MaxTokens
	}
	if payload.ExpectJSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	url := c.endpoint()
	logger.Debugf("[judgment] POST %s model=%s key=%s bytes=%d", url, c.Model, maskKey(c.APIKey), len(raw))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &eresp)
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
	}
	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return r.Choices[0].Message.Content, nil
}

func maskKey(key string) string {
	if key == "" {
		return "<none>"
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
