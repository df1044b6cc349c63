// Package pilot 每个文档一个 Agent：非提供方页面上扫描入口并发起流程，
// 提供方页面上经授权闸门后驱动选择页与确认页。
//
// Agent 之间不共享内存，唯一的接力通道是 handoff.Store。
package pilot

import (
	"context"
	"sync"
	"time"

	"oauthpilot/internal/activation"
	"oauthpilot/internal/config"
	"oauthpilot/internal/detect"
	"oauthpilot/internal/dom"
	"oauthpilot/internal/handoff"
	"oauthpilot/internal/logger"
	"oauthpilot/internal/notify"
	"oauthpilot/internal/phase"
	"oauthpilot/internal/racer"
	"oauthpilot/internal/rules"
	"oauthpilot/internal/scan"
	"oauthpilot/internal/strategy"
	"oauthpilot/pkg/model"
)

// clearTimeout 延迟清除接力状态时单次存储操作的上限
const clearTimeout = 5 * time.Second

// Options Agent 依赖
type Options struct {
	Page     dom.Page
	Rules    rules.Source
	Store    *handoff.Store
	Notifier notify.Notifier
	Provider config.Provider
	Timing   config.Timing
	Adapters []activation.Adapter
	Logger   logger.Logger
}

// Agent 单个页面实例
type Agent struct {
	page       dom.Page
	source     rules.Source
	store      *handoff.Store
	notifier   notify.Notifier
	timing     config.Timing
	label      string
	adapters   []activation.Adapter
	log        logger.Logger
	sess       *ScanSession
	matcher    *rules.Matcher
	detector   *detect.Detector
	engine     *activation.Engine
	classifier *phase.Classifier
	gate       *phase.Gate
	scheduler  *scan.Scheduler

	mu          sync.Mutex
	running     map[model.Phase]bool
	handled     map[model.Phase]string
	matched     *model.Rule
	scanning    bool
	closed      bool
	transition  chan struct{}
	transitOnce sync.Once
	wg          sync.WaitGroup
}

// New 创建页面实例
func New(opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{L: opts.Logger}
	}
	if opts.Provider.Keyword == "" {
		opts.Provider = config.DefaultProvider()
	}
	if len(opts.Adapters) == 0 {
		opts.Adapters = activation.DefaultAdapters()
	}
	a := &Agent{
		page:       opts.Page,
		source:     opts.Rules,
		store:      opts.Store,
		notifier:   opts.Notifier,
		timing:     opts.Timing,
		label:      opts.Provider.ConfirmLabel,
		adapters:   opts.Adapters,
		log:        opts.Logger,
		sess:       newScanSession(),
		matcher:    rules.NewMatcher(opts.Logger),
		detector:   detect.New(opts.Provider.Keyword, opts.Timing.CandidateLimit, opts.Logger),
		classifier: phase.NewClassifier(opts.Provider),
		gate:       phase.NewGate(opts.Store, opts.Logger),
		running:    make(map[model.Phase]bool),
		handled:    make(map[model.Phase]string),
		transition: make(chan struct{}),
	}
	a.engine = activation.New(activation.Config{
		Store:      opts.Store,
		Notifier:   opts.Notifier,
		Adapters:   opts.Adapters,
		ResetDelay: opts.Timing.LoginResetDelay,
		Logger:     opts.Logger,
	})
	a.scheduler = scan.New(scan.Options{
		Delays:        opts.Timing.RescanDelays,
		MutationEvery: opts.Timing.MutationEvery,
		Debounce:      opts.Timing.Debounce,
		Throttle:      opts.Timing.Throttle,
		Logger:        opts.Logger,
	}, a.scanOnce)
	return a
}

// Session 当前页面实例的会话状态
func (a *Agent) Session() *ScanSession { return a.sess }

// Run 运行直到 ctx 结束（页面卸载）
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		a.scheduler.Stop()
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		a.wg.Wait()
		a.sess.dispose()
	}()

	url, err := a.page.URL(ctx)
	if err != nil {
		return err
	}
	urls, err := a.page.URLChanges(ctx)
	if err != nil {
		a.log.Warn("无法订阅文档内导航，只处理初始地址", "error", err)
	}

	ruleCh := make(chan []model.Rule, 1)
	a.loadRules(ctx, ruleCh)

	a.enter(ctx, url, true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-urls:
			if !ok {
				urls = nil
				continue
			}
			a.log.Debug("文档内地址变化", "url", u)
			a.enter(ctx, u, false)
		case rs := <-ruleCh:
			a.onRules(ctx, rs)
		}
	}
}

func (a *Agent) loadRules(ctx context.Context, ch chan []model.Rule) {
	if a.source == nil {
		return
	}
	rs, err := a.source.Rules(ctx)
	if err != nil {
		a.log.Err(err, "读取规则失败")
	} else {
		a.sess.SetRules(rs)
	}
	// 只保留最新一份
	push := func(rs []model.Rule) {
		if ctx.Err() != nil {
			return
		}
		for {
			select {
			case ch <- rs:
				return
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
	}
	if err := a.source.Watch(ctx, push); err != nil {
		a.log.Err(err, "订阅规则变更失败")
	}
}

// enter 处理初始加载及每次文档内地址变化
func (a *Agent) enter(ctx context.Context, url string, initial bool) {
	p := a.classifier.Classify(url)
	if p != model.PhaseNone {
		a.transitOnce.Do(func() { close(a.transition) })
		a.startPhase(ctx, p, url)
		return
	}
	if a.classifier.IsProvider(url) {
		return
	}
	if !initial {
		a.sess.ClearAlert()
	}
	a.startScanning(ctx)
	if a.refreshMatched(url) && !initial {
		a.log.Info("地址变化导致匹配规则变化，立即重扫", "url", url)
		a.scheduler.Reset()
	}
}

func (a *Agent) startScanning(ctx context.Context) {
	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return
	}
	a.scanning = true
	a.mu.Unlock()

	changes, err := a.page.Subscribe(ctx)
	if err != nil {
		a.log.Warn("订阅页面变更失败，只依赖固定延迟重扫", "error", err)
		changes = nil
	}
	a.scheduler.Start(ctx, changes)
}

func (a *Agent) onRules(ctx context.Context, rs []model.Rule) {
	a.sess.SetRules(rs)
	url, err := a.page.URL(ctx)
	if err != nil {
		return
	}
	if a.classifier.IsProvider(url) {
		return
	}
	if a.refreshMatched(url) {
		a.log.Info("匹配规则已变化，立即重扫", "url", url)
		a.sess.ClearAlert()
		a.scheduler.Reset()
	}
}

// refreshMatched 更新当前地址的匹配规则，返回是否变化
func (a *Agent) refreshMatched(url string) bool {
	rule, ok := a.matcher.Match(url, a.sess.Rules())
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.matched
	if !ok {
		a.matched = nil
		return prev != nil
	}
	a.matched = rule
	return prev == nil || !sameRule(*prev, *rule)
}

func sameRule(x, y model.Rule) bool {
	return x.ID == y.ID && x.Pattern == y.Pattern && x.Identity == y.Identity
}

// scanOnce 一次完整扫描：规则匹配 -> 入口检测 -> 激活
func (a *Agent) scanOnce(ctx context.Context) {
	a.sess.Checked(time.Now())
	if a.sess.LoginInProgress() {
		return
	}
	url, err := a.page.URL(ctx)
	if err != nil {
		a.log.Err(err, "读取页面地址失败")
		return
	}
	rule, ok := a.matcher.Match(url, a.sess.Rules())
	if !ok || a.sess.Alerted(rule.ID) {
		return
	}
	matches, err := a.detector.Detect(ctx, a.page)
	if err != nil {
		a.log.Err(err, "入口检测失败", "url", url)
		return
	}
	if len(matches) == 0 {
		return
	}
	entry := matches[0]
	a.log.Info("发现登录入口", "rule", rule.ID, "channel", entry.Channel, "tag", entry.Element.Tag)

	res, err := a.engine.Activate(ctx, a.sess, a.page, entry.Element, *rule)
	if err != nil || res.Skipped {
		return
	}
	if res.Kind == activation.KindPopup {
		a.watchTransition(ctx, url)
	}
}

// watchTransition 弹窗型入口无法跨窗口观察，只能等待当前页面进入流程
func (a *Agent) watchTransition(ctx context.Context, url string) {
	if !a.track() {
		return
	}
	go func() {
		defer a.wg.Done()
		t := time.NewTimer(a.timing.TransitionWait)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-a.transition:
		case <-t.C:
			a.log.Warn("等待进入身份流程超时", "url", url)
			a.notifier.Notify(notify.Title, "Sign-in did not continue in this tab. Please complete the sign-in manually.", url)
			a.sess.EndLogin()
		}
	}()
}

// track 登记一个后台任务；Agent 关闭后拒绝登记
func (a *Agent) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *Agent) startPhase(ctx context.Context, p model.Phase, url string) {
	a.mu.Lock()
	if a.running[p] || a.handled[p] == url {
		a.mu.Unlock()
		return
	}
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.running[p] = true
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		terminal := a.runPhase(ctx, p, url)
		a.mu.Lock()
		a.running[p] = false
		if terminal {
			a.handled[p] = url
		}
		a.mu.Unlock()
	}()
}

// runPhase 返回是否到达终态（成功或超时），被闸门拒绝与页面销毁不算终态
func (a *Agent) runPhase(ctx context.Context, p model.Phase, url string) bool {
	st, ok := a.gate.Admit(ctx, p)
	if !ok {
		return false
	}

	var (
		cascade strategy.Cascade
		race    config.Race
		manual  string
	)
	switch p {
	case model.PhaseChooser:
		cascade = strategy.Chooser(st.TargetIdentity)
		race = a.timing.Chooser
		manual = "Please manually select account: " + st.TargetIdentity
	case model.PhaseConfirmation:
		cascade = strategy.Confirmation(a.label)
		race = a.timing.Confirmation
		manual = "Please manually click " + a.label
	default:
		return false
	}

	log := a.log.With("phase", p)
	res := racer.Race(ctx, racer.Options{
		MaxAttempts: race.MaxAttempts,
		Interval:    race.Interval,
		Deadline:    race.Deadline,
		Logger:      log,
	}, cascade.TryOnce(a.page), a.page.Subscribe)

	if ctx.Err() != nil {
		return false
	}
	if !res.Matched {
		log.Warn("阶段超时，需要手动操作", "attempts", res.Attempts, "elapsed", res.Elapsed)
		a.notifier.Notify(notify.Title, "Automatic sign-in stalled. "+manual, url)
		return true
	}

	if err := activation.Click(ctx, a.page, res.Element.Ref, a.adapters); err != nil {
		log.Err(err, "点击失败", "step", res.Step)
		a.notifier.Notify(notify.Title, "Automatic sign-in stalled. "+manual, url)
		return true
	}
	log.Info("阶段已自动完成", "step", res.Step, "arm", res.Arm, "attempts", res.Attempts)
	a.clearLater(ctx)
	return true
}

// clearLater 宽限期后清除接力状态，容忍迟到的重复检测；定时器不随页面销毁
func (a *Agent) clearLater(ctx context.Context) {
	if a.store == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	time.AfterFunc(a.timing.HandoffGrace, func() {
		cctx, cancel := context.WithTimeout(bg, clearTimeout)
		defer cancel()
		if err := a.store.Clear(cctx); err != nil {
			a.log.Err(err, "清除接力状态失败")
			return
		}
		a.log.Debug("接力状态已清除")
	})
}
