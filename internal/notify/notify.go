// Package notify 面向用户的通知出口，调用方只投递不等待结果。
package notify

import (
	"sync"
	"time"

	"oauthpilot/internal/logger"
	"oauthpilot/pkg/model"
)

// Title 所有通知共用的标题
const Title = "OAuth Autopilot"

// Notifier 通知接口
type Notifier interface {
	Notify(title, message, context string)
}

// Func 函数适配器
type Func func(title, message, context string)

func (f Func) Notify(title, message, context string) { f(title, message, context) }

// Log 写入日志
type Log struct {
	L logger.Logger
}

func (n Log) Notify(title, message, context string) {
	if n.L == nil {
		return
	}
	n.L.Info("通知", "title", title, "message", message, "context", context)
}

// Events 转为会话事件，通道满时丢弃
type Events struct {
	Session model.SessionID
	Target  model.TargetID
	Ch      chan<- model.Event
}

func (n Events) Notify(title, message, context string) {
	if n.Ch == nil {
		return
	}
	evt := model.Event{
		Type:      "notification",
		Session:   n.Session,
		Target:    n.Target,
		Title:     title,
		Message:   message,
		Context:   context,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case n.Ch <- evt:
	default:
	}
}

// Multi 扇出到多个通知器
type Multi []Notifier

func (m Multi) Notify(title, message, context string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, message, context)
		}
	}
}

// Message 一条已投递的通知
type Message struct {
	Title   string
	Message string
	Context string
}

// Recorder 记录所有通知，便于回放命令与测试断言
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Notify(title, message, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Title: title, Message: message, Context: context})
}

// Messages 返回副本
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}
