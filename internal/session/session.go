package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"oauthpilot/internal/activation"
	"oauthpilot/internal/cdp"
	"oauthpilot/internal/config"
	"oauthpilot/internal/ctxkeys"
	"oauthpilot/internal/handoff"
	"oauthpilot/internal/logger"
	"oauthpilot/internal/notify"
	"oauthpilot/internal/pilot"
	"oauthpilot/internal/rules"
	"oauthpilot/pkg/model"

	"github.com/google/uuid"
)

// eventBuffer 会话事件通道容量，满时丢弃
const eventBuffer = 256

// ErrRulesReadOnly 当前规则来源不接受直接替换
var ErrRulesReadOnly = errors.New("session: rule source is read-only")

// Replacer 可整体替换的规则来源
type Replacer interface {
	Replace(rs []model.Rule)
}

// Deps 会话内每个页面实例共享的依赖
type Deps struct {
	Rules    rules.Source
	Store    *handoff.Store
	Provider config.Provider
	Timing   config.Timing
	Adapters []activation.Adapter
	Notifier notify.Notifier
	Logger   logger.Logger
}

// Session 一个已连接的浏览器
type Session struct {
	ID     model.SessionID
	Config model.SessionConfig

	deps   Deps
	events chan model.Event
	cdp    *cdp.Manager
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建会话；Rules 为空时使用内存来源
func New(id model.SessionID, cfg model.SessionConfig, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewStaticSource()
	}
	if deps.Timing.Chooser.Deadline == 0 {
		deps.Timing = config.DefaultTiming()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     id,
		Config: cfg,
		deps:   deps,
		events: make(chan model.Event, eventBuffer),
		log:    deps.Logger.With("session", id),
		ctx:    ctx,
		cancel: cancel,
	}
	s.cdp = cdp.New(cfg.DevToolsURL, s.runDocument, s.events, s.log)
	return s
}

// Start 开启自动附加
func (s *Session) Start() {
	if !s.Config.AutoAttach {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cdp.AutoAttach(s.ctx, time.Second)
	}()
}

// CDP 浏览器目标管理器
func (s *Session) CDP() *cdp.Manager { return s.cdp }

// Events 会话事件流
func (s *Session) Events() <-chan model.Event { return s.events }

// LoadRules 校验并替换规则，已运行的页面实例经 Watch 收到更新
func (s *Session) LoadRules(rs []model.Rule) error {
	r, ok := s.deps.Rules.(Replacer)
	if !ok {
		return ErrRulesReadOnly
	}
	rs = append([]model.Rule(nil), rs...)
	m := rules.NewMatcher(s.log)
	for i, rule := range rs {
		if err := m.Valid(rule.Pattern); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, rule.ID, err)
		}
		if rule.ID == "" {
			rs[i].ID = model.RuleID(fmt.Sprintf("rule-%d", i+1))
		}
	}
	r.Replace(rs)
	s.log.Info("规则已加载", "count", len(rs))
	return nil
}

// Close 分离全部目标并停止自动附加
func (s *Session) Close() error {
	s.cancel()
	err := s.cdp.Close()
	s.wg.Wait()
	return err
}

// runDocument 为目标的每个新文档运行一个页面实例
func (s *Session) runDocument(ctx context.Context, target model.TargetID, page *cdp.Page) {
	trace := uuid.NewString()
	ctx = ctxkeys.WithTraceID(ctx, trace)
	ctx = context.WithValue(ctx, ctxkeys.TargetIDKey{}, target)
	log := s.log.With("target", target, "trace", trace)

	notifier := notify.Multi{
		notify.Log{L: log},
		notify.Events{Session: s.ID, Target: target, Ch: s.events},
	}
	if s.deps.Notifier != nil {
		notifier = append(notifier, s.deps.Notifier)
	}

	agent := pilot.New(pilot.Options{
		Page:     page,
		Rules:    s.deps.Rules,
		Store:    s.deps.Store,
		Notifier: notifier,
		Provider: s.deps.Provider,
		Timing:   s.deps.Timing,
		Adapters: s.deps.Adapters,
		Logger:   log,
	})
	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		log.Err(err, "页面实例异常退出")
	}
}
