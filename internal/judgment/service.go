package judgment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/gateway/provider"
	"perpflow/internal/logger"
	"perpflow/internal/pkg/circuit"
	"perpflow/internal/pkg/text"
	"perpflow/internal/profile"
	"perpflow/internal/signal"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"
)

const (
	ModeVeto    = "veto"
	ModeConfirm = "confirm"
	ModeOff     = "off"
)

// AlertFunc 连续回退达到阈值时调用。
type AlertFunc func(consecutive int, lastReason string)

// Service 对判断服务做有限次尝试，失败返回 HOLD 回退值，从不返回错误。
type Service struct {
	cfg     config.JudgmentConfig
	model   provider.ModelProvider
	system  string
	schema  *jsonschema.Schema
	limiter *rate.Limiter
	breaker *circuit.CircuitBreaker
	onAlert AlertFunc
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	fallbacks int
	last      Verdict
}

type Option func(*Service)

func WithAlert(fn AlertFunc) Option {
	return func(s *Service) { s.onAlert = fn }
}

// WithSleep 替换重试间隔的等待实现，测试用。
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

func NewService(cfg config.JudgmentConfig, model provider.ModelProvider, systemPrompt string, opts ...Option) (*Service, error) {
	schema, err := compileVerdictSchema()
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.AlertAfter <= 0 {
		cfg.AlertAfter = 3
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := time.Duration(cfg.BreakerCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = profile.DefaultJudgmentPrompt
	}
	s := &Service{
		cfg:     cfg,
		model:   model,
		system:  systemPrompt,
		schema:  schema,
		limiter: rate.NewLimiter(limit, 1),
		breaker: circuit.NewCircuitBreaker("judgment", threshold, cooldown),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enabled 配置开启且 provider 可用。
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled && s.cfg.Mode != ModeOff && s.model != nil && s.model.Enabled()
}

func (s *Service) Mode() string {
	if s == nil || s.cfg.Mode == "" {
		return ModeVeto
	}
	return s.cfg.Mode
}

// Judge 最多尝试 max_attempts 次，全部失败后返回回退结论。
func (s *Service) Judge(ctx context.Context, req Request) Verdict {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if !s.breaker.Allow() {
		return s.fail(req.TraceID, "judgment breaker open")
	}
	user := req.Render()
	logger.DumpJudgment(req.TraceID, "request", map[string]string{"system": s.system, "user": user}, "system", "user")

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, time.Duration(s.cfg.RetryDelayMillis)*time.Millisecond); err != nil {
				lastErr = err
				break
			}
		}
		v, err := s.attempt(ctx, req.TraceID, user)
		if err == nil {
			s.breaker.RecordSuccess()
			s.succeed(v)
			logger.Infof("[judgment] %s %s/%s: %s", req.TraceID, v.Signal, v.Confidence, text.Truncate(v.Reason, 120))
			return v
		}
		lastErr = err
		s.breaker.RecordFailure()
		logger.Warnf("[judgment] %s 第 %d/%d 次调用失败: %v", req.TraceID, attempt, s.cfg.MaxAttempts, err)
		if ctx.Err() != nil {
			break
		}
	}
	reason := "fallback"
	if lastErr != nil {
		reason = "fallback: " + text.Truncate(lastErr.Error(), 160)
	}
	return s.fail(req.TraceID, reason)
}

func (s *Service) attempt(ctx context.Context, traceID, user string) (Verdict, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Verdict{}, fmt.Errorf("rate limit: %w", err)
	}
	callCtx := ctx
	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	raw, err := s.model.Call(callCtx, provider.ChatPayload{System: s.system, User: user, ExpectJSON: true, Temperature: 0.2})
	if err != nil {
		return Verdict{}, err
	}
	logger.DumpJudgment(traceID, "response", map[string]string{"raw": raw}, "raw")
	return ParseVerdict(raw, s.schema)
}

func (s *Service) succeed(v Verdict) {
	s.mu.Lock()
	s.fallbacks = 0
	s.last = v
	s.mu.Unlock()
}

func (s *Service) fail(traceID, reason string) Verdict {
	v := Fallback(reason)
	s.mu.Lock()
	s.fallbacks++
	count := s.fallbacks
	s.last = v
	s.mu.Unlock()
	logger.Warnf("[judgment] %s 使用回退结论 HOLD (连续 %d 次): %s", traceID, count, reason)
	if s.onAlert != nil && count%s.cfg.AlertAfter == 0 {
		s.onAlert(count, reason)
	}
	return v
}

// ConsecutiveFallbacks 当前连续回退次数。
func (s *Service) ConsecutiveFallbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbacks
}

func (s *Service) Last() Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Combine 按模式合并评分与判断结论，返回最终信号与说明。
func Combine(mode string, scored signal.Signal, v Verdict) (signal.Signal, string) {
	if scored == signal.Hold || mode == ModeOff {
		return scored, ""
	}
	switch mode {
	case ModeConfirm:
		if v.Signal != scored {
			return signal.Hold, fmt.Sprintf("judgment %s does not confirm %s", v.Signal, scored)
		}
		if v.Confidence.Rank() < signal.Medium.Rank() {
			return signal.Hold, fmt.Sprintf("judgment confirms %s with %s confidence only", scored, v.Confidence)
		}
		return scored, fmt.Sprintf("judgment confirms %s", scored)
	default:
		if v.Signal == signal.Hold || v.Signal == scored.Opposite() {
			return signal.Hold, fmt.Sprintf("judgment vetoed %s with %s: %s", scored, v.Signal, text.Truncate(v.Reason, 80))
		}
		return scored, ""
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
