package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"perpflow/internal/logger"
	"perpflow/internal/regime"
	"perpflow/internal/signal"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const profileSchema = `{
  "type": "object",
  "required": ["regimes"],
  "additionalProperties": false,
  "properties": {
    "regimes": {
      "type": "object",
      "propertyNames": {"enum": ["TRENDING", "RANGING", "CHAOTIC", "NEUTRAL", "trending", "ranging", "chaotic", "neutral"]},
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "trend":          {"type": "number", "minimum": 0, "maximum": 5},
          "zone":           {"type": "number", "minimum": 0, "maximum": 5},
          "delta":          {"type": "number", "minimum": 0, "maximum": 5},
          "imbalance":      {"type": "number", "minimum": 0, "maximum": 5},
          "macd":           {"type": "number", "minimum": 0, "maximum": 5},
          "rsi":            {"type": "number", "minimum": 0, "maximum": 5},
          "rsi_overbought": {"type": "number", "exclusiveMinimum": 50, "maximum": 100},
          "rsi_oversold":   {"type": "number", "minimum": 0, "exclusiveMaximum": 50}
        }
      }
    }
  }
}`

// FileConfig 映射 regime_profiles.yaml。
type FileConfig struct {
	Regimes map[string]fileAdjustment `yaml:"regimes"`
}

type fileAdjustment struct {
	Trend         *float64 `yaml:"trend"`
	Zone          *float64 `yaml:"zone"`
	Delta         *float64 `yaml:"delta"`
	Imbalance     *float64 `yaml:"imbalance"`
	MACD          *float64 `yaml:"macd"`
	RSI           *float64 `yaml:"rsi"`
	RSIOverbought *float64 `yaml:"rsi_overbought"`
	RSIOversold   *float64 `yaml:"rsi_oversold"`
}

// Snapshot 当前生效的状态调整表。
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Adjustments map[regime.Label]signal.Adjustment
}

// ChangeListener 在重载成功后触发。
type ChangeListener func(Snapshot)

// Registry 管理按市场状态区分的评分调整表，文件变化时热更新。
// 重载失败时保留上一份有效配置。
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取配置文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("regime profile registry requires path")
	}
	schema, err := compileSchema(profileSchema)
	if err != nil {
		return nil, fmt.Errorf("compile regime profile schema: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read regime profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v, schema: schema}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("regime profile reload failed, keeping version %d: %v", r.Snapshot().Version, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Adjustment 实现 signal.AdjustmentSource。
func (r *Registry) Adjustment(label regime.Label) (signal.Adjustment, bool) {
	if r == nil {
		return signal.Adjustment{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	adj, ok := r.snapshot.Adjustments[label]
	return adj, ok
}

// Snapshot 返回当前调整表副本。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Subscribe 注册重载回调。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	adjustments, err := r.readFile()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Adjustments: adjustments,
	}
	version := r.snapshot.Version
	r.mu.Unlock()
	logger.Infof("Regime profiles v%d loaded %d regimes from %s", version, len(adjustments), filepath.Base(r.path))
	return nil
}

func (r *Registry) readFile() (map[regime.Label]signal.Adjustment, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read regime profile config failed: %w", err)
	}
	if err := r.validateSchema(raw); err != nil {
		return nil, err
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse regime profile config failed: %w", err)
	}
	out := make(map[regime.Label]signal.Adjustment, len(cfg.Regimes))
	for name, adj := range cfg.Regimes {
		label := regime.Label(strings.ToUpper(strings.TrimSpace(name)))
		out[label] = normalize(label, adj)
	}
	return out, nil
}

func (r *Registry) validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse regime profile config failed: %w", err)
	}
	// yaml 整数与 map 类型转成 JSON 形态再校验
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("regime profile config is not json compatible: %w", err)
	}
	var generic any
	if err := json.Unmarshal(js, &generic); err != nil {
		return err
	}
	if err := r.schema.Validate(generic); err != nil {
		return fmt.Errorf("regime profile config invalid: %w", err)
	}
	return nil
}

// normalize 未写的倍率按 1 处理，未写的 RSI 区间沿用内置表。
func normalize(label regime.Label, in fileAdjustment) signal.Adjustment {
	def := signal.DefaultAdjustment(label, 70, 30)
	pick := func(v *float64, fallback float64) float64 {
		if v == nil {
			return fallback
		}
		return *v
	}
	return signal.Adjustment{
		Trend:         pick(in.Trend, 1),
		Zone:          pick(in.Zone, 1),
		Delta:         pick(in.Delta, 1),
		Imbalance:     pick(in.Imbalance, 1),
		MACD:          pick(in.MACD, 1),
		RSI:           pick(in.RSI, 1),
		RSIOverbought: pick(in.RSIOverbought, def.RSIOverbought),
		RSIOversold:   pick(in.RSIOversold, def.RSIOversold),
	}
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("regime profile listener")
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:     src.Version,
		LoadedAt:    src.LoadedAt,
		Adjustments: make(map[regime.Label]signal.Adjustment, len(src.Adjustments)),
	}
	for k, v := range src.Adjustments {
		dst.Adjustments[k] = v
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(text string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("regime_profiles.json", strings.NewReader(text)); err != nil {
		return nil, err
	}
	return compiler.Compile("regime_profiles.json")
}
