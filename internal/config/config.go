package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"perpflow/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取主配置（含 include 链），填充默认值并校验。
func Load(path string) (*Config, error) {
	files, err := includeChain(path)
	if err != nil {
		return nil, err
	}
	merged := viper.New()
	merged.SetConfigType("yaml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := merged.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}
	return decode(merged)
}

// Default 所有字段取默认值，不读文件。
func Default() Config {
	var cfg Config
	cfg.applyDefaults(make(keySet))
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	keys := make(keySet)
	flattenKeys("", v.AllSettings(), keys)
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WatchLogLevel 监听主配置文件，app.log_level 变化时回调。其它字段需要重启生效。
func WatchLogLevel(path string, apply func(level string)) error {
	if apply == nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config failed: %w", err)
	}
	last := strings.ToLower(v.GetString("app.log_level"))
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		level := strings.ToLower(strings.TrimSpace(v.GetString("app.log_level")))
		if level == "" || level == last {
			return
		}
		logger.Infof("[config] log_level %s -> %s (%s)", last, level, evt.Name)
		last = level
		apply(level)
	})
	v.WatchConfig()
	return nil
}

// includeChain 返回按合并顺序排列的文件列表：被 include 的文件在前，自身在后。
func includeChain(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{done: map[string]bool{}, visiting: map[string]bool{}}
	if err := r.walk(abs); err != nil {
		return nil, err
	}
	return r.order, nil
}

type includeResolver struct {
	done     map[string]bool
	visiting map[string]bool
	order    []string
}

func (r *includeResolver) walk(path string) error {
	path = filepath.Clean(path)
	if r.visiting[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if r.done[path] {
		return nil
	}
	r.visiting[path] = true
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.walk(inc); err != nil {
			return err
		}
	}
	delete(r.visiting, path)
	r.done[path] = true
	r.order = append(r.order, path)
	return nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if s, isStr := raw.(string); isStr {
			items = []any{s}
		} else {
			return nil, fmt.Errorf("include must be a string array")
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

func flattenKeys(prefix string, node any, dest keySet) {
	m, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			dest.mark(prefix)
		}
		return
	}
	if prefix != "" {
		dest.mark(prefix)
	}
	for k, v := range m {
		next := strings.ToLower(strings.TrimSpace(k))
		if next == "" {
			continue
		}
		if prefix != "" {
			next = prefix + "." + next
		}
		flattenKeys(next, v, dest)
	}
}
