package cdp

import (
	"time"

	conv "oauthpilot/internal/adapter/cdp"
	"oauthpilot/pkg/model"

	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
)

// consumeNavigations 主框架每次提交新文档都替换页面实例
func (m *Manager) consumeNavigations(ts *targetSession, nav page.FrameNavigatedClient) {
	for {
		ev, err := nav.Recv()
		if err != nil {
			return
		}
		if ev.Frame.ParentID != nil {
			continue
		}
		ts.log.Debug("主框架导航", "url", ev.Frame.URL)
		ts.startDocument(ev.Frame.ID, m.onDocument)
		m.sendEvent(model.Event{Type: "navigated", Target: ts.id, Context: ev.Frame.URL})
	}
}

// consumeWithinDocument history API 导致的文档内 URL 变化
func (m *Manager) consumeWithinDocument(ts *targetSession, within page.NavigatedWithinDocumentClient) {
	for {
		ev, err := within.Recv()
		if err != nil {
			return
		}
		doc, frame := ts.current()
		if doc == nil || ev.FrameID != frame {
			continue
		}
		ts.log.Debug("文档内导航", "url", ev.URL)
		doc.publishURL(ev.URL)
	}
}

// consumeBindings 变更观察器的批量回传
func (m *Manager) consumeBindings(ts *targetSession, bound runtime.BindingCalledClient) {
	var dropped int
	last := time.Now()
	for {
		ev, err := bound.Recv()
		if err != nil {
			return
		}
		if ev.Name != bindingName {
			continue
		}
		muts, err := conv.ToMutations(ev.Payload)
		if err != nil {
			dropped++
			if time.Since(last) > time.Minute {
				ts.log.Err(err, "无法解析变更负载", "dropped", dropped)
				dropped, last = 0, time.Now()
			}
			continue
		}
		if doc, _ := ts.current(); doc != nil {
			doc.publishMutations(muts)
		}
	}
}
