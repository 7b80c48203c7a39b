package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultJudgmentPrompt 未配置 prompt_path 时使用的系统提示词。
const DefaultJudgmentPrompt = `You are a risk reviewer for a perpetual futures trading engine.
You receive a proposed trade with indicator, order flow and regime context.
Reply with a single JSON object and nothing else:
{"signal": "BUY" | "SELL" | "HOLD", "confidence": "HIGH" | "MEDIUM" | "LOW", "reason": "<one sentence>"}
Answer HOLD when the context contradicts the proposal or the market looks disorderly.`

// PromptLoader 按引用加载提示词，相对路径依次在 bases 下查找。
type PromptLoader struct {
	bases []string
}

// NewPromptLoader bases 为附加搜索目录，例如 configs/prompts。
func NewPromptLoader(bases ...string) *PromptLoader {
	return &PromptLoader{bases: uniqueStrings(trimAll(bases))}
}

// Load 空引用返回内置提示词。
func (l *PromptLoader) Load(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return DefaultJudgmentPrompt, nil
	}
	var lastErr error
	for _, path := range l.candidatePaths(ref) {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		txt := strings.TrimSpace(string(data))
		if txt == "" {
			return "", fmt.Errorf("prompt %s is empty", path)
		}
		return txt, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("prompt %s not found: %w", ref, lastErr)
	}
	return "", fmt.Errorf("prompt %s not found", ref)
}

func (l *PromptLoader) candidatePaths(ref string) []string {
	cleaned := filepath.Clean(ref)
	paths := []string{cleaned}
	if filepath.Ext(cleaned) == "" {
		paths = append(paths, cleaned+".txt")
	}
	if filepath.IsAbs(cleaned) || l == nil {
		return uniqueStrings(paths)
	}
	for _, base := range l.bases {
		paths = append(paths, filepath.Join(base, cleaned))
		if filepath.Ext(cleaned) == "" {
			paths = append(paths, filepath.Join(base, cleaned+".txt"))
		}
	}
	return uniqueStrings(paths)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
