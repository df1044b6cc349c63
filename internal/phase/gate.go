package phase

import (
	"context"

	"oauthpilot/internal/handoff"
	"oauthpilot/internal/logger"
	"oauthpilot/pkg/model"
)

// Gate 授权闸门：只有本工具发起的流程才允许自动操作
type Gate struct {
	store *handoff.Store
	log   logger.Logger
}

// NewGate 创建闸门
func NewGate(store *handoff.Store, l logger.Logger) *Gate {
	if l == nil {
		l = logger.NewNop()
	}
	return &Gate{store: store, log: l}
}

// Admit 每次调用都重新读取存储；读取失败按未授权处理
func (g *Gate) Admit(ctx context.Context, p model.Phase) (model.HandoffState, bool) {
	if g.store == nil {
		return model.HandoffState{}, false
	}
	st, err := g.store.Load(ctx)
	if err != nil {
		g.log.Err(err, "读取接力状态失败，视为未授权", "phase", p)
		return model.HandoffState{}, false
	}
	if !st.Authorized {
		g.log.Info("流程未由本工具发起，跳过阶段", "phase", p)
		return st, false
	}
	return st, true
}
