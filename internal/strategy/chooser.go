package strategy

import (
	"context"
	"regexp"
	"strings"

	"oauthpilot/internal/dom"
)

const (
	// ChooserMarkerSelector 账号选择器中结构化的“可选身份”条目
	ChooserMarkerSelector = `[data-authuser][data-identifier]`
	// IdentityAttrSelector 携带身份标识或邮箱的任意元素
	IdentityAttrSelector = `[data-identifier], [data-email]`
	// RowSelector 可点击的行容器
	RowSelector = `li, [role="link"], [role="button"], [role="option"], [data-authuser]`
	// ListItemSelector 自由文本扫描的范围
	ListItemSelector = `li, [role="option"], [role="link"], [role="listitem"]`

	maxFreeText = 200
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Chooser 身份选择页的级联
func Chooser(identity string) Cascade {
	target := strings.TrimSpace(identity)

	exact := func(el dom.Element) bool {
		return el.Attr("data-identifier") == target || el.Attr("data-email") == target
	}
	contains := func(el dom.Element) bool {
		return containsFold(el.Attr("data-identifier"), target) || containsFold(el.Attr("data-email"), target)
	}

	return Cascade{
		Name: "chooser",
		Steps: []Step{
			{Name: "marker-exact", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, ChooserMarkerSelector, func(el dom.Element) bool {
					return el.Attr("data-identifier") == target
				})
			}},
			{Name: "attr-exact", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, IdentityAttrSelector, exact)
			}},
			{Name: "marker-contains", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, ChooserMarkerSelector, func(el dom.Element) bool {
					return containsFold(el.Attr("data-identifier"), target)
				})
			}},
			{Name: "attr-contains", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, IdentityAttrSelector, contains)
			}},
			{Name: "label-contains", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, `[aria-label]`, func(el dom.Element) bool {
					return containsFold(el.Attr("aria-label"), target)
				})
			}},
			{Name: "text-scan", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, ListItemSelector, func(el dom.Element) bool {
					return len(el.Text) <= maxFreeText && containsFold(el.Text, target) && emailRe.MatchString(el.Text)
				})
			}},
		},
		Resolve: preferRow,
	}
}

// preferRow 身份属性常落在不可交互的后代上，优先点击最近的行容器
func preferRow(ctx context.Context, page dom.Page, el dom.Element) dom.Element {
	row, err := page.Closest(ctx, el.Ref, RowSelector)
	if err != nil || row == nil {
		return el
	}
	return *row
}
