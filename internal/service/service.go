package service

import (
	"context"
	"errors"
	"fmt"

	"oauthpilot/internal/logger"
	"oauthpilot/internal/session"
	"oauthpilot/pkg/model"

	"github.com/google/uuid"
)

// ErrInvalidConfig 会话配置不完整
var ErrInvalidConfig = errors.New("service: invalid session config")

// Service 实现 api.Service
type Service struct {
	sessions *session.Manager
	deps     session.Deps
	log      logger.Logger
}

// New 创建服务；deps 为每个会话共享的页面实例依赖
func New(l logger.Logger, deps session.Deps) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = l
	}
	return &Service{sessions: session.NewManager(l), deps: deps, log: l}
}

// StartSession 连接浏览器并创建会话
func (s *Service) StartSession(ctx context.Context, cfg model.SessionConfig) (model.SessionID, error) {
	if cfg.DevToolsURL == "" {
		return "", fmt.Errorf("%w: devtools url is required", ErrInvalidConfig)
	}
	id := model.SessionID(uuid.NewString())
	sess := s.sessions.Create(id, cfg, s.deps)
	if _, err := sess.CDP().ListTargets(ctx); err != nil {
		_, _ = s.sessions.Delete(id)
		_ = sess.Close()
		return "", fmt.Errorf("connect %s: %w", cfg.DevToolsURL, err)
	}
	sess.Start()
	return id, nil
}

// StopSession 关闭会话
func (s *Service) StopSession(_ context.Context, id model.SessionID) error {
	sess, err := s.sessions.Delete(id)
	if err != nil {
		return err
	}
	return sess.Close()
}

// AttachTarget 附加目标并开始在其文档上运行页面实例
func (s *Service) AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return session.ErrSessionNotFound
	}
	return sess.CDP().AttachTarget(ctx, target)
}

// DetachTarget 分离目标
func (s *Service) DetachTarget(_ context.Context, id model.SessionID, target model.TargetID) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return session.ErrSessionNotFound
	}
	return sess.CDP().DetachTarget(target)
}

// ListTargets 列出页面目标
func (s *Service) ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess.CDP().ListTargets(ctx)
}

// LoadRules 替换会话的规则
func (s *Service) LoadRules(id model.SessionID, rs []model.Rule) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return session.ErrSessionNotFound
	}
	return sess.LoadRules(rs)
}

// SubscribeEvents 订阅会话事件
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.Event, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess.Events(), nil
}

// Close 关闭全部会话
func (s *Service) Close() error {
	var errs []error
	for _, sess := range s.sessions.List() {
		if _, err := s.sessions.Delete(sess.ID); err != nil {
			continue
		}
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
