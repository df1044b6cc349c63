// Package strategy 各阶段的元素匹配级联，按顺序尝试，首个命中者胜出。
package strategy

import (
	"context"
	"fmt"
	"strings"

	"oauthpilot/internal/dom"
	"oauthpilot/internal/racer"
)

// Step 级联中的一步
type Step struct {
	Name string
	Find func(ctx context.Context, page dom.Page) (*dom.Element, error)
}

// Cascade 有序级联
type Cascade struct {
	Name  string
	Steps []Step
	// Resolve 命中后换成真正要点击的元素，可为 nil
	Resolve func(ctx context.Context, page dom.Page, el dom.Element) dom.Element
}

// TryOnce 把级联包装成竞速器的单次尝试
func (c Cascade) TryOnce(page dom.Page) racer.TryFunc {
	return func(ctx context.Context) (racer.Outcome, error) {
		var lastErr error
		for _, s := range c.Steps {
			el, err := s.Find(ctx, page)
			if err != nil {
				// 单步失败不影响后续步骤
				lastErr = fmt.Errorf("%s/%s: %w", c.Name, s.Name, err)
				continue
			}
			if el == nil {
				continue
			}
			target := *el
			if c.Resolve != nil {
				target = c.Resolve(ctx, page, target)
			}
			return racer.Outcome{Matched: true, Element: target, Step: s.Name}, nil
		}
		return racer.Outcome{}, lastErr
	}
}

// first 查询并返回首个满足 pred 的元素
func first(ctx context.Context, page dom.Page, selector string, pred func(dom.Element) bool) (*dom.Element, error) {
	els, err := page.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	for i := range els {
		if pred(els[i]) {
			return &els[i], nil
		}
	}
	return nil, nil
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
