package judgment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"perpflow/internal/pkg/jsonutil"
	"perpflow/internal/signal"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

var ErrMalformed = errors.New("judgment: malformed response")

const verdictSchema = `{
  "type": "object",
  "required": ["signal", "reason"],
  "properties": {
    "signal": {"enum": ["BUY", "SELL", "HOLD"]},
    "confidence": {"type": ["string", "number"]},
    "reason": {"type": "string"}
  }
}`

// Verdict 判断服务的结论。IsFallback 表示调用失败后的保守默认值。
type Verdict struct {
	Signal     signal.Signal     `json:"signal"`
	Confidence signal.Confidence `json:"confidence"`
	Reason     string            `json:"reason"`
	IsFallback bool              `json:"is_fallback"`
}

// Fallback 失败时统一返回 HOLD/LOW。
func Fallback(reason string) Verdict {
	if reason == "" {
		reason = "fallback"
	}
	return Verdict{Signal: signal.Hold, Confidence: signal.Low, Reason: reason, IsFallback: true}
}

func compileVerdictSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("judgment_verdict.json", strings.NewReader(verdictSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("judgment_verdict.json")
}

// ParseVerdict 从模型原文中提取并校验结论。
func ParseVerdict(raw string, schema *jsonschema.Schema) (Verdict, error) {
	obj, ok := jsonutil.ExtractObject(raw)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: no json object", ErrMalformed)
	}
	obj, ok = jsonutil.Repair(obj)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// 大小写与空白不影响信号取值
	if s, ok := doc["signal"].(string); ok {
		doc["signal"] = strings.ToUpper(strings.TrimSpace(s))
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	parsed := gjson.Parse(obj)
	v := Verdict{
		Signal:     signal.Signal(strings.ToUpper(strings.TrimSpace(parsed.Get("signal").String()))),
		Confidence: NormalizeConfidence(parsed.Get("confidence")),
		Reason:     strings.TrimSpace(parsed.Get("reason").String()),
	}
	return v, nil
}

// NormalizeConfidence 数值按 80/60 分档，文字支持常见别名，无法识别时为 MEDIUM。
func NormalizeConfidence(res gjson.Result) signal.Confidence {
	switch res.Type {
	case gjson.Number:
		return confidenceFromScore(res.Float())
	case gjson.String:
		text := strings.TrimSpace(res.String())
		if f, err := strconv.ParseFloat(strings.TrimSuffix(text, "%"), 64); err == nil {
			return confidenceFromScore(f)
		}
		return confidenceFromWord(text)
	default:
		return signal.Medium
	}
}

func confidenceFromScore(v float64) signal.Confidence {
	// 0-1 的小数按百分比处理
	if v > 0 && v <= 1 {
		v *= 100
	}
	switch {
	case v >= 80:
		return signal.High
	case v >= 60:
		return signal.Medium
	default:
		return signal.Low
	}
}

func confidenceFromWord(word string) signal.Confidence {
	switch strings.ToLower(word) {
	case "high", "h", "strong", "高", "强", "強":
		return signal.High
	case "medium", "m", "mid", "moderate", "中":
		return signal.Medium
	case "low", "l", "weak", "低", "弱":
		return signal.Low
	default:
		return signal.Medium
	}
}
