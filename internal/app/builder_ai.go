package app

import (
	"fmt"
	"strings"

	"perpflow/internal/config"
	"perpflow/internal/engine"
	"perpflow/internal/gateway/provider"
	"perpflow/internal/judgment"
	"perpflow/internal/logger"
	"perpflow/internal/profile"
	"perpflow/internal/signal"
)

const defaultPromptDir = "configs/prompts"

// buildJudgment 未启用时返回 nil，引擎只使用评分结果。
func buildJudgment(cfg *config.Config, dispatcher *engine.Dispatcher) (*judgment.Service, error) {
	jc := cfg.Judgment
	if !jc.Enabled || jc.Mode == judgment.ModeOff {
		logger.Infof("✓ 判断服务未启用，仅使用评分信号")
		return nil, nil
	}
	loader := profile.NewPromptLoader(".", defaultPromptDir)
	system, err := loader.Load(jc.PromptPath)
	if err != nil {
		return nil, fmt.Errorf("加载判断服务提示词失败: %w", err)
	}
	model := provider.NewFromConfig(jc)
	svc, err := judgment.NewService(jc, model, system,
		judgment.WithAlert(engine.JudgmentAlert(dispatcher, cfg.Trading.Symbol)),
	)
	if err != nil {
		return nil, fmt.Errorf("初始化判断服务失败: %w", err)
	}
	logger.Infof("✓ 判断服务 mode=%s model=%s attempts=%d prompt=%d 字符", jc.Mode, jc.Model, jc.MaxAttempts, len(system))
	return svc, nil
}

// buildAdjustments 未配置 profiles_path 时返回 nil，评分器使用内置调整表。
func buildAdjustments(cfg config.ScoringConfig) (signal.AdjustmentSource, *profile.Registry, error) {
	path := strings.TrimSpace(cfg.ProfilesPath)
	if path == "" {
		return nil, nil, nil
	}
	reg, err := profile.NewRegistry(path)
	if err != nil {
		return nil, nil, fmt.Errorf("加载市场状态配置失败: %w", err)
	}
	reg.Subscribe(func(s profile.Snapshot) {
		logger.Infof("[profile] 市场状态权重已热更新 version=%d labels=%d", s.Version, len(s.Adjustments))
	})
	logger.Infof("✓ 市场状态权重 %s version=%d", absPath(path), reg.Snapshot().Version)
	return reg, reg, nil
}
