// Package htmldom 基于 goquery 的静态文档实现，用于回放录制的页面和测试。
//
// 静态文档没有布局信息：被 hidden / display:none / visibility:hidden
// 覆盖的元素尺寸记为 0，其他元素记为固定非零尺寸。
package htmldom

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"oauthpilot/internal/dom"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// 激活技术名称
const (
	TechniqueInvoke  = "invoke"
	TechniquePointer = "pointer"
	TechniqueClick   = "click"
)

// Activation 一次激活记录
type Activation struct {
	Ref       string
	Technique string
}

// Document 可变的静态文档
type Document struct {
	mu    sync.Mutex
	url   string
	doc   *goquery.Document
	refs  map[*html.Node]string
	nodes map[string]*html.Node
	next  int

	subs    map[chan dom.Mutation]struct{}
	urlSubs map[chan string]struct{}

	activations []Activation
	navigations []string
	scrolled    []string
	failures    map[string]error

	onActivate func(Activation)
	onNavigate func(string)
}

// New 从 HTML 字符串创建文档
func New(url, markup string) (*Document, error) {
	return Parse(url, strings.NewReader(markup))
}

// Parse 从 reader 创建文档
func Parse(url string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{
		url:      url,
		doc:      doc,
		refs:     make(map[*html.Node]string),
		nodes:    make(map[string]*html.Node),
		subs:     make(map[chan dom.Mutation]struct{}),
		urlSubs:  make(map[chan string]struct{}),
		failures: make(map[string]error),
	}, nil
}

// OnActivate 注册激活回调（锁外调用）
func (d *Document) OnActivate(fn func(Activation)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onActivate = fn
}

// OnNavigate 注册导航回调（锁外调用）
func (d *Document) OnNavigate(fn func(string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onNavigate = fn
}

// FailOn 令指定激活技术返回错误
func (d *Document) FailOn(technique string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[technique] = err
}

// URL 当前地址
func (d *Document) URL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

// QueryAll 按文档顺序返回匹配元素；非法选择器返回错误
func (d *Document) QueryAll(_ context.Context, selector string) ([]dom.Element, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dom.Element
	d.doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		out = append(out, d.snapshot(s))
	})
	return out, nil
}

// Find 测试便捷方法
func (d *Document) Find(selector string) []dom.Element {
	out, _ := d.QueryAll(context.Background(), selector)
	return out
}

// Closest 自身或最近的匹配祖先
func (d *Document) Closest(_ context.Context, ref, selector string) (*dom.Element, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(ref)
	if err != nil {
		return nil, err
	}
	s := d.doc.FindNodes(n).ClosestMatcher(m)
	if s.Length() == 0 {
		return nil, nil
	}
	el := d.snapshot(s.First())
	return &el, nil
}

// Navigate 记录导航；静态文档不会真正卸载
func (d *Document) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	d.navigations = append(d.navigations, url)
	fn := d.onNavigate
	d.mu.Unlock()
	if fn != nil {
		fn(url)
	}
	return nil
}

// ScrollIntoView 记录滚动
func (d *Document) ScrollIntoView(_ context.Context, ref string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.lookup(ref); err != nil {
		return err
	}
	d.scrolled = append(d.scrolled, ref)
	return nil
}

func (d *Document) Invoke(ctx context.Context, ref string) error {
	return d.activate(ref, TechniqueInvoke)
}

func (d *Document) DispatchPointer(ctx context.Context, ref string) error {
	return d.activate(ref, TechniquePointer)
}

func (d *Document) DispatchClick(ctx context.Context, ref string) error {
	return d.activate(ref, TechniqueClick)
}

func (d *Document) activate(ref, technique string) error {
	d.mu.Lock()
	if _, err := d.lookup(ref); err != nil {
		d.mu.Unlock()
		return err
	}
	if err := d.failures[technique]; err != nil {
		d.mu.Unlock()
		return err
	}
	a := Activation{Ref: ref, Technique: technique}
	d.activations = append(d.activations, a)
	fn := d.onActivate
	d.mu.Unlock()
	if fn != nil {
		fn(a)
	}
	return nil
}

// Subscribe 订阅变更
func (d *Document) Subscribe(ctx context.Context) (<-chan dom.Mutation, error) {
	ch := make(chan dom.Mutation, 64)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.subs, ch)
		close(ch)
		d.mu.Unlock()
	}()
	return ch, nil
}

// URLChanges 订阅文档内 URL 变化
func (d *Document) URLChanges(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 8)
	d.mu.Lock()
	d.urlSubs[ch] = struct{}{}
	d.mu.Unlock()
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.urlSubs, ch)
		close(ch)
		d.mu.Unlock()
	}()
	return ch, nil
}

// SetURL 模拟 history.pushState
func (d *Document) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	for ch := range d.urlSubs {
		select {
		case ch <- url:
		default:
		}
	}
}

// SetInnerHTML 替换匹配元素的内容
func (d *Document) SetInnerHTML(selector, markup string) error {
	return d.mutate(selector, "childList", func(s *goquery.Selection) { s.SetHtml(markup) })
}

// AppendHTML 向匹配元素追加内容
func (d *Document) AppendHTML(selector, markup string) error {
	return d.mutate(selector, "childList", func(s *goquery.Selection) { s.AppendHtml(markup) })
}

// SetAttr 设置属性
func (d *Document) SetAttr(selector, name, value string) error {
	return d.mutate(selector, "attributes", func(s *goquery.Selection) { s.SetAttr(name, value) })
}

// RemoveAttr 移除属性
func (d *Document) RemoveAttr(selector, name string) error {
	return d.mutate(selector, "attributes", func(s *goquery.Selection) { s.RemoveAttr(name) })
}

func (d *Document) mutate(selector, kind string, fn func(*goquery.Selection)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.doc.Find(selector)
	if s.Length() == 0 {
		return fmt.Errorf("mutate: no element matches %q", selector)
	}
	fn(s)
	m := dom.Mutation{
		Kind:      kind,
		Tag:       goquery.NodeName(s.First()),
		Buttonish: s.Is(dom.ButtonSelector) || s.Find(dom.ButtonSelector).Length() > 0,
	}
	for ch := range d.subs {
		select {
		case ch <- m:
		default:
		}
	}
	return nil
}

// Activations 已发生的激活
func (d *Document) Activations() []Activation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Activation(nil), d.activations...)
}

// Navigations 已请求的导航
func (d *Document) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// Scrolled 已滚动到视口的元素
func (d *Document) Scrolled() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.scrolled...)
}

func compile(selector string) (cascadia.Selector, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	return m, nil
}

// lookup 需持有锁
func (d *Document) lookup(ref string) (*html.Node, error) {
	n, ok := d.nodes[ref]
	if !ok || !d.attached(n) {
		return nil, dom.ErrStaleElement
	}
	return n, nil
}

func (d *Document) attached(n *html.Node) bool {
	root := d.doc.Nodes[0]
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

func (d *Document) refOf(n *html.Node) string {
	if ref, ok := d.refs[n]; ok {
		return ref
	}
	d.next++
	ref := strconv.Itoa(d.next)
	d.refs[n] = ref
	d.nodes[ref] = n
	return ref
}

func (d *Document) snapshot(s *goquery.Selection) dom.Element {
	n := s.Get(0)
	el := dom.Element{
		Ref:   d.refOf(n),
		Tag:   strings.ToLower(n.Data),
		Attrs: make(map[string]string, len(n.Attr)),
		Text:  dom.NormalizeSpace(s.Text()),
	}
	for _, a := range n.Attr {
		el.Attrs[strings.ToLower(a.Key)] = a.Val
	}
	var own strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			own.WriteString(c.Data)
			own.WriteByte(' ')
		}
	}
	el.OwnText = dom.NormalizeSpace(own.String())
	el.Value = el.Attrs["value"]
	_, disabled := el.Attrs["disabled"]
	el.Disabled = disabled || strings.EqualFold(el.Attrs["aria-disabled"], "true")
	if !hidden(n) {
		el.Rect = dom.Rect{Width: 120, Height: 32}
	}
	return el
}

func hidden(n *html.Node) bool {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		for _, a := range cur.Attr {
			switch strings.ToLower(a.Key) {
			case "hidden":
				return true
			case "type":
				if cur.Data == "input" && strings.EqualFold(a.Val, "hidden") {
					return true
				}
			case "style":
				style := strings.ToLower(strings.ReplaceAll(a.Val, " ", ""))
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return true
				}
			}
		}
	}
	return false
}
