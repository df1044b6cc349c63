package strategy

import (
	"context"
	"strings"

	"oauthpilot/internal/dom"
)

const (
	// ActivatableSelector 可激活元素
	ActivatableSelector = `button, [role="button"], input[type="submit"], input[type="button"], a`
	// ConfirmMarkerSelector 确认页稳定的内部标记
	ConfirmMarkerSelector = `#submit_approve_access button, #submit_approve_access [role="button"]`
	confirmMarkerSelf     = `#submit_approve_access`

	maxNestedText = 64
)

// Confirmation 确认页的级联；所有候选必须可见且未禁用
func Confirmation(label string) Cascade {
	want := strings.TrimSpace(label)

	ownLabel := func(el dom.Element) string {
		if el.Tag == "input" {
			return el.Value
		}
		return el.OwnText
	}

	return Cascade{
		Name: "confirmation",
		Steps: []Step{
			{Name: "text-exact", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, ActivatableSelector, func(el dom.Element) bool {
					return el.Actionable() && strings.EqualFold(dom.NormalizeSpace(ownLabel(el)), want)
				})
			}},
			{Name: "marker", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				el, err := first(ctx, p, ConfirmMarkerSelector, dom.Element.Actionable)
				if el != nil || err != nil {
					return el, err
				}
				// 容器本身是按钮时才直接点击
				return first(ctx, p, confirmMarkerSelf, func(el dom.Element) bool {
					return el.Actionable() && dom.IsButtonish(el.Tag, el.Attr("role"), el.Attr("type"))
				})
			}},
			{Name: "label-contains", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, ActivatableSelector, func(el dom.Element) bool {
					return el.Actionable() && containsFold(el.Attr("aria-label"), want)
				})
			}},
			{Name: "nested-text", Find: func(ctx context.Context, p dom.Page) (*dom.Element, error) {
				return first(ctx, p, ActivatableSelector, func(el dom.Element) bool {
					return el.Actionable() && len(el.Text) <= maxNestedText && containsFold(el.Text, want)
				})
			}},
		},
	}
}
