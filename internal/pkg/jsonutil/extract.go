package jsonutil

import (
	"strings"
)

const codeFence = "```"

// ExtractObject 从模型回复中取出第一个 JSON 对象，优先代码块。
func ExtractObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		if obj, _, ok := balanced(block, '{', '}'); ok {
			return obj, true
		}
	}
	obj, _, ok := balanced(raw, '{', '}')
	return obj, ok
}

// ExtractArray 取第一个 JSON 数组，返回其在原文中的偏移。
func ExtractArray(raw string) (string, int, bool) {
	return balanced(raw, '[', ']')
}

func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 去掉 ```json 这类语言标记行
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

// balanced 找到 open 开头、括号配平的片段，忽略字符串内的括号。
// 单引号字符串也视为字符串，便于随后修复。
func balanced(raw string, open, close byte) (string, int, bool) {
	start := strings.IndexByte(raw, open)
	if start == -1 {
		return "", -1, false
	}
	depth := 0
	var quote byte
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if quote != 0 {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), start, true
			}
		}
	}
	return "", -1, false
}
