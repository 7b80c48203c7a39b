package provider

import "context"

type ChatPayload struct {
	System      string
	User        string
	ExpectJSON  bool
	MaxTokens   int
	Temperature float64
}

// ModelProvider 一次性聊天调用，重试由调用方决定。
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
