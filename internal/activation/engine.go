// Package activation 发起外部身份流程：写入接力状态，然后激活入口元素。
package activation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"oauthpilot/internal/dom"
	"oauthpilot/internal/handoff"
	"oauthpilot/internal/logger"
	"oauthpilot/internal/notify"
	"oauthpilot/pkg/model"
)

// Kind 入口类型
type Kind string

const (
	KindRedirect Kind = "redirect"
	KindPopup    Kind = "popup"
)

// Session 页面实例上的登录进行中标志
type Session interface {
	// BeginLogin 已在进行中时返回 false
	BeginLogin(rule model.RuleID) bool
	EndLogin()
	// After 注册随页面实例销毁的定时器（重定向型入口的兜底清除）
	After(d time.Duration, fn func())
}

// Result 激活结果
type Result struct {
	Kind    Kind
	Skipped bool
}

// Config 引擎配置
type Config struct {
	Store      *handoff.Store
	Notifier   notify.Notifier
	Adapters   []Adapter
	ResetDelay time.Duration
	Logger     logger.Logger
}

// Engine 激活引擎
type Engine struct {
	store      *handoff.Store
	notifier   notify.Notifier
	adapters   []Adapter
	resetDelay time.Duration
	log        logger.Logger
}

// New 创建激活引擎
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Log{L: cfg.Logger}
	}
	if len(cfg.Adapters) == 0 {
		cfg.Adapters = DefaultAdapters()
	}
	return &Engine{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		adapters:   cfg.Adapters,
		resetDelay: cfg.ResetDelay,
		log:        cfg.Logger,
	}
}

// Classify 具备可导航目标且不打开新上下文的链接为重定向型
func Classify(el dom.Element) Kind {
	if el.Tag != "a" {
		return KindPopup
	}
	if strings.EqualFold(strings.TrimSpace(el.Attr("target")), "_blank") {
		return KindPopup
	}
	href := strings.TrimSpace(el.Attr("href"))
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(lower, "javascript:") {
		return KindPopup
	}
	return KindRedirect
}

// Activate 对入口元素发起流程；错误与 panic 均在此边界处理
func (e *Engine) Activate(ctx context.Context, sess Session, page dom.Page, el dom.Element, rule model.Rule) (res Result, err error) {
	if !sess.BeginLogin(rule.ID) {
		e.log.Debug("登录已在进行中，忽略重复激活", "rule", rule.ID)
		return Result{Skipped: true}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activation panic: %v", r)
		}
		if err != nil {
			e.log.Err(err, "激活入口失败", "rule", rule.ID)
			e.notifier.Notify(notify.Title, "Could not start sign-in automatically. Please click the sign-in button manually.", rule.Identity)
			sess.EndLogin()
			return
		}
		// 弹窗型由调用方的流程转入监视在终态时清除，提前清除会让同一入口再开一个弹窗
		if e.resetDelay > 0 && res.Kind == KindRedirect {
			sess.After(e.resetDelay, sess.EndLogin)
		}
	}()

	res.Kind = Classify(el)

	// 必须先于任何导航效果写入：重定向随时可能销毁当前页面
	if e.store != nil {
		st := model.HandoffState{TargetIdentity: rule.Identity, Authorized: true}
		if werr := e.store.Save(ctx, st); werr != nil {
			e.log.Err(werr, "写入接力状态失败，后续阶段将不会自动操作", "rule", rule.ID)
		}
	}

	switch res.Kind {
	case KindRedirect:
		err = e.redirect(ctx, page, el)
	default:
		err = FireAll(ctx, page, el.Ref, e.adapters)
	}
	if err != nil {
		return res, err
	}

	e.log.Info("已发起身份流程", "rule", rule.ID, "kind", res.Kind)
	e.notifier.Notify(notify.Title, "Signing in as "+rule.Identity, string(rule.ID))
	return res, nil
}

func (e *Engine) redirect(ctx context.Context, page dom.Page, el dom.Element) error {
	target, err := resolve(ctx, page, el.Attr("href"))
	if err == nil {
		err = page.Navigate(ctx, target)
		if err == nil {
			return nil
		}
	}
	e.log.Warn("直接导航失败，回退到点击", "href", el.Attr("href"), "error", err)
	return FireAll(ctx, page, el.Ref, e.adapters)
}

func resolve(ctx context.Context, page dom.Page, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := page.URL(ctx)
	if err != nil {
		return "", err
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}
