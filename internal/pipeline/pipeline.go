package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"perpflow/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Pipeline 按 stage 顺序执行，同一 stage 内的步骤并行。
type Pipeline struct {
	name   string
	stages [][]Middleware
}

func New(name string, middlewares ...Middleware) *Pipeline {
	stageMap := make(map[int][]Middleware)
	for _, mw := range middlewares {
		if mw == nil {
			continue
		}
		meta := mw.Meta()
		stageMap[meta.Stage] = append(stageMap[meta.Stage], mw)
	}
	keys := make([]int, 0, len(stageMap))
	for st := range stageMap {
		keys = append(keys, st)
	}
	sort.Ints(keys)
	stages := make([][]Middleware, 0, len(keys))
	for _, st := range keys {
		stages = append(stages, stageMap[st])
	}
	return &Pipeline{name: name, stages: stages}
}

// Stages 返回 stage 数量。
func (p *Pipeline) Stages() int { return len(p.stages) }

// Run 非关键步骤的失败只记为 warning；关键步骤失败时中止后续 stage。
func (p *Pipeline) Run(ctx context.Context, tc *TickContext) error {
	if tc == nil {
		return fmt.Errorf("nil tick context")
	}
	for _, stage := range p.stages {
		if err := p.runStage(ctx, tc, stage); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, tc *TickContext, stage []Middleware) error {
	group, stageCtx := errgroup.WithContext(ctx)
	warnCh := make(chan *MiddlewareError, len(stage))
	for _, mw := range stage {
		mw := mw
		group.Go(func() error {
			meta := mw.Meta()
			runCtx := stageCtx
			if meta.Timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(stageCtx, meta.Timeout)
				defer cancel()
			}
			start := time.Now()
			err := safeHandle(runCtx, mw, tc)
			logger.Debugf("[pipeline] %s/%s 耗时 %s", p.name, meta.Name, time.Since(start).Round(time.Millisecond))
			if err == nil {
				return nil
			}
			wErr := &MiddlewareError{Middleware: meta.Name, Stage: meta.Stage, Critical: meta.Critical, Err: err}
			if meta.Critical {
				return wErr
			}
			warnCh <- wErr
			return nil
		})
	}
	err := group.Wait()
	close(warnCh)
	for warn := range warnCh {
		tc.AddWarning(warn.Error())
		logger.Warnf("[pipeline] %s %s", p.name, warn.Error())
	}
	if err != nil {
		tc.AddWarning(err.Error())
	}
	return err
}

func safeHandle(ctx context.Context, mw Middleware, tc *TickContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return mw.Handle(ctx, tc)
}
