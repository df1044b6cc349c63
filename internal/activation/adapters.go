package activation

import (
	"context"
	"errors"
	"fmt"

	"oauthpilot/internal/dom"
)

// Adapter 一种激活技术
type Adapter interface {
	Name() string
	Fire(ctx context.Context, page dom.Page, ref string) error
}

type adapterFunc struct {
	name string
	fire func(dom.Page, context.Context, string) error
}

func (a adapterFunc) Name() string { return a.name }

func (a adapterFunc) Fire(ctx context.Context, page dom.Page, ref string) error {
	return a.fire(page, ctx, ref)
}

// 不同站点监听不同的事件通道，三种技术依次全部触发，不因前者成功而短路
var (
	InvokeAdapter  Adapter = adapterFunc{"invoke", dom.Page.Invoke}
	PointerAdapter Adapter = adapterFunc{"pointer", dom.Page.DispatchPointer}
	ClickAdapter   Adapter = adapterFunc{"click", dom.Page.DispatchClick}
)

// DefaultAdapters 默认激活顺序
func DefaultAdapters() []Adapter {
	return []Adapter{InvokeAdapter, PointerAdapter, ClickAdapter}
}

// FireAll 依次触发全部技术；至少一种成功即视为成功
func FireAll(ctx context.Context, page dom.Page, ref string, adapters []Adapter) error {
	if len(adapters) == 0 {
		adapters = DefaultAdapters()
	}
	var errs []error
	ok := 0
	for _, a := range adapters {
		if err := a.Fire(ctx, page, ref); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			continue
		}
		ok++
	}
	if ok == 0 {
		return fmt.Errorf("all activation techniques failed: %w", errors.Join(errs...))
	}
	return nil
}

// Click 滚动到视口后触发全部技术
func Click(ctx context.Context, page dom.Page, ref string, adapters []Adapter) error {
	// 滚动失败不阻止激活
	_ = page.ScrollIntoView(ctx, ref)
	return FireAll(ctx, page, ref, adapters)
}
