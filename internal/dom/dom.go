// Package dom 定义自动驾驶核心依赖的页面能力面。
//
// 元素在查询时被快照为 Element 值，后续动作通过 Ref 回指页面中的活元素。
// 选择器只使用浏览器 querySelectorAll 与 cascadia 共同支持的 CSS 子集。
package dom

import (
	"context"
	"errors"
	"strings"
)

// ErrStaleElement 元素引用已失效（被移除或页面已重建）
var ErrStaleElement = errors.New("dom: stale element reference")

// Rect 元素渲染尺寸
type Rect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element 元素快照
type Element struct {
	Ref      string            `json:"ref"`
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs"`
	Text     string            `json:"text"`    // 含后代的文本
	OwnText  string            `json:"ownText"` // 仅直接子文本节点
	Value    string            `json:"value"`
	Rect     Rect              `json:"rect"`
	Disabled bool              `json:"disabled"`
}

// Attr 读取属性，不存在返回空串
func (e Element) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// HasAttr 判断属性是否存在
func (e Element) HasAttr(name string) bool {
	if e.Attrs == nil {
		return false
	}
	_, ok := e.Attrs[name]
	return ok
}

// Visible 渲染面积非零
func (e Element) Visible() bool {
	return e.Rect.Width > 0 && e.Rect.Height > 0
}

// Actionable 可见且未禁用
func (e Element) Actionable() bool {
	return e.Visible() && !e.Disabled
}

// Mutation DOM 变更通知
type Mutation struct {
	Kind string `json:"kind"` // childList / attributes
	Tag  string `json:"tag"`
	// Buttonish 变更目标或新增节点中包含按钮形态的元素
	Buttonish bool `json:"buttonish"`
}

// Page 单个文档的能力面
type Page interface {
	URL(ctx context.Context) (string, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Closest 从 ref 自身开始向上查找第一个匹配 selector 的祖先
	Closest(ctx context.Context, ref, selector string) (*Element, error)
	Navigate(ctx context.Context, url string) error
	ScrollIntoView(ctx context.Context, ref string) error

	// 三种激活原语
	Invoke(ctx context.Context, ref string) error
	DispatchPointer(ctx context.Context, ref string) error
	DispatchClick(ctx context.Context, ref string) error

	// Subscribe 订阅子树范围的 attributes/childList 变更，ctx 结束时关闭通道
	Subscribe(ctx context.Context) (<-chan Mutation, error)
	// URLChanges 文档内 URL 变化（history API），ctx 结束时关闭通道
	URLChanges(ctx context.Context) (<-chan string, error)
}

// ButtonSelector 按钮形态元素
const ButtonSelector = `button, a, [role="button"], input[type="button"], input[type="submit"]`

// IsButtonish 判断标签/角色/类型是否构成按钮形态
func IsButtonish(tag, role, typ string) bool {
	switch strings.ToLower(tag) {
	case "button", "a":
		return true
	case "input":
		t := strings.ToLower(typ)
		return t == "button" || t == "submit"
	}
	return strings.EqualFold(role, "button")
}

// NormalizeSpace 折叠空白
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
