package api

import (
	"context"

	"oauthpilot/internal/logger"
	"oauthpilot/internal/service"
	"oauthpilot/internal/session"
	"oauthpilot/pkg/model"
)

// Deps 页面实例共享的依赖（规则来源、接力存储、提供方与时序配置）
type Deps = session.Deps

// Service 服务接口
type Service interface {
	// StartSession 连接浏览器并启动会话
	StartSession(ctx context.Context, cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(ctx context.Context, id model.SessionID) error

	// AttachTarget 附加目标
	AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) error

	// DetachTarget 分离目标
	DetachTarget(ctx context.Context, id model.SessionID, target model.TargetID) error

	// ListTargets 列出目标
	ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error)

	// LoadRules 替换规则
	LoadRules(id model.SessionID, rules []model.Rule) error

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.Event, error)

	// Close 关闭全部会话
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger, deps Deps) Service {
	return service.New(l, deps)
}
