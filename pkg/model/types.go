package model

import "time"

type SessionID string
type TargetID string
type RuleID string

// SessionConfig 浏览器会话配置
type SessionConfig struct {
	DevToolsURL string `json:"devToolsURL"`
	Profile     string `json:"profile"`
	AutoAttach  bool   `json:"autoAttach"`
}

// Rule URL 规则到目标身份的映射，由外部规则编辑方维护，此处只读
type Rule struct {
	ID        RuleID     `json:"id" yaml:"id"`
	Pattern   string     `json:"pattern" yaml:"pattern"`
	Identity  string     `json:"identity" yaml:"identity"`
	CreatedAt *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// HandoffState 跨源接力状态
type HandoffState struct {
	TargetIdentity string `json:"targetIdentity"`
	Authorized     bool   `json:"authorized"`
}

// Phase 外部身份流程所处阶段
type Phase string

const (
	PhaseNone         Phase = "none"
	PhaseChooser      Phase = "chooser"
	PhaseConfirmation Phase = "confirmation"
)

// Event 会话事件，主要承载通知
type Event struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Context   string    `json:"context"`
	Timestamp int64     `json:"timestamp"`
}

// TargetInfo 浏览器目标信息
type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
	IsUser    bool     `json:"isUser"`
}
