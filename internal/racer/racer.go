// Package racer 双臂竞速：轮询臂与变更订阅臂并行查找目标元素，先命中者胜。
//
// 轮询臂覆盖订阅建立前已存在的元素，订阅臂覆盖稍后才出现的元素。
// 命中后整个任务组被取消，两臂都退出后才把胜者交给调用方，因此至多产生一次点击。
package racer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"oauthpilot/internal/dom"
	"oauthpilot/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Arm 胜出的一臂
type Arm string

const (
	ArmPoll  Arm = "poll"
	ArmWatch Arm = "watch"
)

// Outcome 单次尝试结果
type Outcome struct {
	Matched bool
	Element dom.Element
	Step    string
}

// TryFunc 单次尝试；返回错误视为本次未命中
type TryFunc func(ctx context.Context) (Outcome, error)

// ChangeSource 变更订阅，ctx 结束时关闭通道
type ChangeSource func(ctx context.Context) (<-chan dom.Mutation, error)

// Options 竞速参数
type Options struct {
	MaxAttempts int
	Interval    time.Duration
	Deadline    time.Duration
	// Qualify 过滤变更，nil 表示全部变更都触发重试
	Qualify func(dom.Mutation) bool
	Logger  logger.Logger
}

// Result 竞速结果
type Result struct {
	Outcome
	Arm      Arm
	Attempts int
	Elapsed  time.Duration
}

// Race 运行两臂直至命中、截止或 ctx 取消
func Race(ctx context.Context, opts Options, try TryFunc, changes ChangeSource) Result {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	start := time.Now()
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		once     sync.Once
		winner   Result
		attempts atomic.Int64
	)
	claim := func(arm Arm, out Outcome) {
		once.Do(func() {
			winner = Result{Outcome: out, Arm: arm}
			cancel()
		})
	}
	attempt := func(gctx context.Context, arm Arm) bool {
		if gctx.Err() != nil {
			return false
		}
		attempts.Add(1)
		out, err := try(gctx)
		if err != nil {
			l.Debug("尝试失败", "arm", arm, "error", err)
			return false
		}
		if !out.Matched {
			return false
		}
		claim(arm, out)
		return true
	}

	g, gctx := errgroup.WithContext(rctx)

	g.Go(func() error {
		interval := opts.Interval
		if interval <= 0 {
			interval = 250 * time.Millisecond
		}
		timer := time.NewTimer(0)
		defer timer.Stop()
		for i := 0; opts.MaxAttempts <= 0 || i < opts.MaxAttempts; i++ {
			select {
			case <-gctx.Done():
				return nil
			case <-timer.C:
			}
			if attempt(gctx, ArmPoll) {
				return nil
			}
			timer.Reset(interval)
		}
		return nil
	})

	if changes != nil {
		g.Go(func() error {
			ch, err := changes(gctx)
			if err != nil {
				l.Warn("订阅页面变更失败，仅依赖轮询", "error", err)
				return nil
			}
			for {
				select {
				case <-gctx.Done():
					return nil
				case m, ok := <-ch:
					if !ok {
						return nil
					}
					if opts.Qualify != nil && !opts.Qualify(m) {
						continue
					}
					if attempt(gctx, ArmWatch) {
						return nil
					}
				}
			}
		})
	}

	_ = g.Wait()

	winner.Attempts = int(attempts.Load())
	winner.Elapsed = time.Since(start)
	return winner
}
