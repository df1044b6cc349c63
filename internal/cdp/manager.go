// Package cdp 通过 DevTools 协议连接浏览器目标，为主框架的每个文档提供一个 Page。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"oauthpilot/internal/logger"
	"oauthpilot/pkg/model"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

var (
	// ErrNoTarget 找不到可附加的目标
	ErrNoTarget = errors.New("cdp: no target")
	// ErrNotAttached 目标未附加
	ErrNotAttached = errors.New("cdp: target not attached")
)

// DocumentFunc 主框架出现新文档时调用，阻塞到 ctx 结束（文档卸载或目标分离）
type DocumentFunc func(ctx context.Context, target model.TargetID, p *Page)

// Manager 管理一个浏览器上的多个目标连接
type Manager struct {
	devtoolsURL string
	onDocument  DocumentFunc
	events      chan<- model.Event
	log         logger.Logger

	mu      sync.Mutex
	targets map[model.TargetID]*targetSession
}

// targetSession 单个目标的连接与当前文档
type targetSession struct {
	id     model.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger

	mu        sync.Mutex
	frameID   page.FrameID
	doc       *Page
	docCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New 创建目标管理器；events 可为 nil
func New(devtoolsURL string, onDocument DocumentFunc, events chan<- model.Event, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		devtoolsURL: devtoolsURL,
		onDocument:  onDocument,
		events:      events,
		log:         l,
		targets:     make(map[model.TargetID]*targetSession),
	}
}

// ListTargets 列出浏览器中的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cdp: list targets: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		id := model.TargetID(t.ID)
		_, attached := m.targets[id]
		out = append(out, model.TargetInfo{
			ID:        id,
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: attached,
			IsUser:    !isInternalURL(t.URL),
		})
	}
	return out, nil
}

// AttachTarget 附加目标；target 为空时取第一个页面目标
func (m *Manager) AttachTarget(ctx context.Context, target model.TargetID) error {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return fmt.Errorf("cdp: list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if target == "" || model.TargetID(t.ID) == target {
			sel = t
			break
		}
	}
	if sel == nil {
		return ErrNoTarget
	}
	id := model.TargetID(sel.ID)

	m.mu.Lock()
	if _, ok := m.targets[id]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ts, err := m.connect(ctx, id, sel.WebSocketDebuggerURL)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.targets[id]; ok {
		m.mu.Unlock()
		ts.close()
		return nil
	}
	m.targets[id] = ts
	m.mu.Unlock()

	m.sendEvent(model.Event{Type: "attached", Target: id, Context: sel.URL})
	m.log.Info("已附加目标", "target", id, "url", sel.URL)
	return nil
}

// DetachTarget 分离目标，等待其文档处理结束
func (m *Manager) DetachTarget(target model.TargetID) error {
	m.mu.Lock()
	ts, ok := m.targets[target]
	if ok {
		delete(m.targets, target)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotAttached
	}
	err := ts.close()
	m.sendEvent(model.Event{Type: "detached", Target: target})
	m.log.Info("已分离目标", "target", target)
	return err
}

// Attached 已附加的目标
func (m *Manager) Attached() []model.TargetID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TargetID, 0, len(m.targets))
	for id := range m.targets {
		out = append(out, id)
	}
	return out
}

// AutoAttach 周期性附加新出现的用户页面目标，直到 ctx 结束
func (m *Manager) AutoAttach(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		m.attachNew(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (m *Manager) attachNew(ctx context.Context) {
	list, err := m.ListTargets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Err(err, "列出目标失败")
		}
		return
	}
	for _, t := range list {
		if t.IsCurrent || !t.IsUser {
			continue
		}
		if err := m.AttachTarget(ctx, t.ID); err != nil && ctx.Err() == nil {
			m.log.Err(err, "自动附加目标失败", "target", t.ID)
		}
	}
}

// Close 分离全部目标
func (m *Manager) Close() error {
	m.mu.Lock()
	all := m.targets
	m.targets = make(map[model.TargetID]*targetSession)
	m.mu.Unlock()
	var errs []error
	for _, ts := range all {
		if err := ts.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) connect(ctx context.Context, id model.TargetID, wsURL string) (*targetSession, error) {
	conn, err := rpcc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", id, err)
	}
	tctx, cancel := context.WithCancel(context.Background())
	ts := &targetSession{
		id:     id,
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    tctx,
		cancel: cancel,
		log:    m.log.With("target", id),
	}
	if err := m.enable(ctx, ts); err != nil {
		ts.close()
		return nil, err
	}
	return ts, nil
}

// enable 先建立事件流再启用域，避免漏掉首个导航
func (m *Manager) enable(ctx context.Context, ts *targetSession) error {
	nav, err := ts.client.Page.FrameNavigated(ts.ctx)
	if err != nil {
		return fmt.Errorf("cdp: frameNavigated stream: %w", err)
	}
	within, err := ts.client.Page.NavigatedWithinDocument(ts.ctx)
	if err != nil {
		nav.Close()
		return fmt.Errorf("cdp: navigatedWithinDocument stream: %w", err)
	}
	bound, err := ts.client.Runtime.BindingCalled(ts.ctx)
	if err != nil {
		nav.Close()
		within.Close()
		return fmt.Errorf("cdp: bindingCalled stream: %w", err)
	}
	streams := func() {
		nav.Close()
		within.Close()
		bound.Close()
	}

	if err := ts.client.Page.Enable(ctx); err != nil {
		streams()
		return fmt.Errorf("cdp: page enable: %w", err)
	}
	if err := ts.client.Runtime.Enable(ctx); err != nil {
		streams()
		return fmt.Errorf("cdp: runtime enable: %w", err)
	}
	if err := ts.client.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(bindingName)); err != nil {
		streams()
		return fmt.Errorf("cdp: add binding: %w", err)
	}
	if _, err := ts.client.Page.AddScriptToEvaluateOnNewDocument(ctx,
		page.NewAddScriptToEvaluateOnNewDocumentArgs(observerScript)); err != nil {
		streams()
		return fmt.Errorf("cdp: install observer: %w", err)
	}
	tree, err := ts.client.Page.GetFrameTree(ctx)
	if err != nil {
		streams()
		return fmt.Errorf("cdp: frame tree: %w", err)
	}

	// 当前文档在脚本注册前已创建，手动安装一次
	if _, err := ts.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(observerScript)); err != nil {
		ts.log.Err(err, "当前文档安装变更观察器失败")
	}

	ts.startDocument(tree.FrameTree.Frame.ID, m.onDocument)

	ts.wg.Add(3)
	go func() { defer ts.wg.Done(); defer nav.Close(); m.consumeNavigations(ts, nav) }()
	go func() { defer ts.wg.Done(); defer within.Close(); m.consumeWithinDocument(ts, within) }()
	go func() { defer ts.wg.Done(); defer bound.Close(); m.consumeBindings(ts, bound) }()
	return nil
}

func (m *Manager) sendEvent(evt model.Event) {
	if m.events == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	select {
	case m.events <- evt:
	default:
	}
}

// startDocument 结束旧文档的处理并为新文档启动
func (ts *targetSession) startDocument(frame page.FrameID, fn DocumentFunc) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.docCancel != nil {
		ts.docCancel()
	}
	if ts.doc != nil {
		ts.doc.close()
	}
	if ts.ctx.Err() != nil {
		return
	}
	ts.frameID = frame
	p := newPage(ts.client, ts.id, ts.log)
	dctx, cancel := context.WithCancel(ts.ctx)
	ts.doc, ts.docCancel = p, cancel
	if fn == nil {
		return
	}
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		fn(dctx, ts.id, p)
	}()
}

func (ts *targetSession) current() (*Page, page.FrameID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.doc, ts.frameID
}

func (ts *targetSession) close() error {
	ts.cancel()
	ts.mu.Lock()
	if ts.docCancel != nil {
		ts.docCancel()
	}
	if ts.doc != nil {
		ts.doc.close()
	}
	ts.mu.Unlock()
	err := ts.conn.Close()
	ts.wg.Wait()
	return err
}

func isInternalURL(u string) bool {
	for _, p := range []string{"chrome://", "devtools://", "chrome-extension://", "edge://", "about:"} {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}
