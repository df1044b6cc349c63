package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	conv "oauthpilot/internal/adapter/cdp"
	"oauthpilot/internal/dom"
	"oauthpilot/internal/logger"
	"oauthpilot/pkg/model"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
)

// subBuffer 单个订阅者的缓冲；满时丢弃，变更通知只是重扫提示
const subBuffer = 64

// Page 绑定到目标主框架当前文档的 dom.Page 实现，文档被替换时关闭
type Page struct {
	client *cdp.Client
	target model.TargetID
	log    logger.Logger

	mu      sync.Mutex
	next    int
	mutSubs map[int]chan dom.Mutation
	urlSubs map[int]chan string
	closed  bool
}

var _ dom.Page = (*Page)(nil)

func newPage(client *cdp.Client, target model.TargetID, l logger.Logger) *Page {
	return &Page{
		client:  client,
		target:  target,
		log:     l,
		mutSubs: make(map[int]chan dom.Mutation),
		urlSubs: make(map[int]chan string),
	}
}

// Target 所属目标
func (p *Page) Target() model.TargetID { return p.target }

func (p *Page) evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true)
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("cdp: evaluate: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("cdp: script exception: %s", reply.ExceptionDetails.Text)
	}
	return reply.Result.Value, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	raw, err := p.evaluate(ctx, locationScript)
	if err != nil {
		return "", err
	}
	var u string
	if err := json.Unmarshal(raw, &u); err != nil {
		return "", fmt.Errorf("cdp: decode location: %w", err)
	}
	return u, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	raw, err := p.evaluate(ctx, queryScript(selector))
	if err != nil {
		return nil, err
	}
	return conv.ToElements(raw)
}

func (p *Page) Closest(ctx context.Context, ref, selector string) (*dom.Element, error) {
	raw, err := p.evaluate(ctx, closestScript(ref, selector))
	if err != nil {
		return nil, err
	}
	return conv.ToClosest(raw)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	reply, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("cdp: navigate: %w", err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("cdp: navigate %s: %s", url, *reply.ErrorText)
	}
	return nil
}

func (p *Page) act(ctx context.Context, ref, body string) error {
	raw, err := p.evaluate(ctx, actionScript(ref, body))
	if err != nil {
		return err
	}
	return conv.ToActionError(raw)
}

func (p *Page) ScrollIntoView(ctx context.Context, ref string) error {
	return p.act(ctx, ref, bodyScroll)
}

func (p *Page) Invoke(ctx context.Context, ref string) error {
	return p.act(ctx, ref, bodyInvoke)
}

func (p *Page) DispatchPointer(ctx context.Context, ref string) error {
	return p.act(ctx, ref, bodyPointer)
}

func (p *Page) DispatchClick(ctx context.Context, ref string) error {
	return p.act(ctx, ref, bodyClick)
}

func (p *Page) Subscribe(ctx context.Context) (<-chan dom.Mutation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan dom.Mutation, subBuffer)
	if p.closed {
		close(ch)
		return ch, nil
	}
	id := p.next
	p.next++
	p.mutSubs[id] = ch
	context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.mutSubs[id]; ok {
			delete(p.mutSubs, id)
			close(c)
		}
	})
	return ch, nil
}

func (p *Page) URLChanges(ctx context.Context) (<-chan string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan string, subBuffer)
	if p.closed {
		close(ch)
		return ch, nil
	}
	id := p.next
	p.next++
	p.urlSubs[id] = ch
	context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.urlSubs[id]; ok {
			delete(p.urlSubs, id)
			close(c)
		}
	})
	return ch, nil
}

func (p *Page) publishMutations(ms []dom.Mutation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.mutSubs {
		for _, m := range ms {
			select {
			case ch <- m:
			default:
			}
		}
	}
}

func (p *Page) publishURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.urlSubs {
		select {
		case ch <- u:
		default:
			p.log.Warn("URL 变化订阅者处理过慢，丢弃", "url", u)
		}
	}
}

// close 关闭全部订阅，文档已被替换
func (p *Page) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.mutSubs {
		close(ch)
		delete(p.mutSubs, id)
	}
	for id, ch := range p.urlSubs {
		close(ch)
		delete(p.urlSubs, id)
	}
}
