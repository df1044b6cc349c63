// Package scan 调度入口重扫，限制内容密集页面上的 CPU 开销。
//
// 去抖吸收突发，节流约束稳态频率；节流期间到达的请求合并为一次尾随扫描。
package scan

import (
	"context"
	"sync"
	"time"

	"oauthpilot/internal/dom"
	"oauthpilot/internal/logger"

	"github.com/bep/debounce"
	"golang.org/x/time/rate"
)

// Options 调度参数
type Options struct {
	Delays        []time.Duration
	MutationEvery int
	Debounce      time.Duration
	Throttle      time.Duration
	Logger        logger.Logger
}

// Scheduler 单个页面实例的重扫调度器
type Scheduler struct {
	opts Options
	scan func(ctx context.Context)
	log  logger.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	debounced func(func())
	limiter   *rate.Limiter
	trailing  *time.Timer
	timers    []*time.Timer
	mutations int
	running   bool
	// pending 扫描进行中又收到请求，结束后补扫一次
	pending bool
}

// New 创建调度器；scan 在调度器自己的 ctx 下执行，不会并发重入
func New(opts Options, scan func(ctx context.Context)) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.MutationEvery <= 0 {
		opts.MutationEvery = 1
	}
	s := &Scheduler{opts: opts, scan: scan, log: opts.Logger}
	s.resetLocked()
	return s
}

// Start 安排固定延迟扫描并订阅按钮形态的变更
func (s *Scheduler) Start(ctx context.Context, changes <-chan dom.Mutation) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, d := range s.opts.Delays {
		s.timers = append(s.timers, time.AfterFunc(d, s.Request))
	}
	sctx := s.ctx
	s.mu.Unlock()

	if changes == nil {
		return
	}
	go func() {
		for {
			select {
			case <-sctx.Done():
				return
			case m, ok := <-changes:
				if !ok {
					return
				}
				if m.Buttonish {
					s.observe()
				}
			}
		}
	}()
}

// observe 每 N 次有效变更请求一次重扫
func (s *Scheduler) observe() {
	s.mu.Lock()
	s.mutations++
	fire := s.mutations%s.opts.MutationEvery == 0
	s.mu.Unlock()
	if fire {
		s.Request()
	}
}

// Request 请求一次去抖、节流后的重扫
func (s *Scheduler) Request() {
	s.mu.Lock()
	d := s.debounced
	s.mu.Unlock()
	if d == nil {
		s.fire()
		return
	}
	d(s.fire)
}

// Reset 清空去抖/节流/计数状态后立即扫描（匹配规则变化时调用）
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.run()
}

// Stop 取消全部定时器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	if s.trailing != nil {
		s.trailing.Stop()
		s.trailing = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// MutationCount 已观察到的有效变更数
func (s *Scheduler) MutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// resetLocked 需持有锁
func (s *Scheduler) resetLocked() {
	s.mutations = 0
	if s.opts.Debounce > 0 {
		s.debounced = debounce.New(s.opts.Debounce)
	} else {
		s.debounced = nil
	}
	if s.opts.Throttle > 0 {
		s.limiter = rate.NewLimiter(rate.Every(s.opts.Throttle), 1)
	} else {
		s.limiter = nil
	}
	if s.trailing != nil {
		s.trailing.Stop()
		s.trailing = nil
	}
}

// fire 去抖之后的节流关口
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if s.limiter != nil {
		r := s.limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			if s.trailing == nil {
				s.trailing = time.AfterFunc(delay, func() {
					s.mu.Lock()
					s.trailing = nil
					s.mu.Unlock()
					s.fire()
				})
			}
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()
	s.run()
}

// run 串行执行扫描；进行中到达的请求合并为一次补扫
func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running, s.pending = false, false
		s.mu.Unlock()
	}()
	for {
		s.scan(ctx)
		s.mu.Lock()
		again := s.pending && ctx.Err() == nil
		s.pending = false
		s.mu.Unlock()
		if !again {
			return
		}
	}
}
