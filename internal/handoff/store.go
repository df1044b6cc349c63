// Package handoff 跨源接力存储的类型化访问层。
//
// 两个键总是由一次 Set 同时写入、一次 Get 同时读取，但底层不提供事务；
// 读到不完整或格式错误的记录时一律视为未授权。
package handoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oauthpilot/internal/logger"
	"oauthpilot/pkg/model"

	"github.com/avast/retry-go/v4"
)

// 存储键
const (
	KeyTargetIdentity = "oauthTargetEmail"
	KeyAuthorized     = "oauthAuthorized"
)

// Record 键值记录，值为 JSON 可表达的任意类型
type Record map[string]any

// KV 对所有源可见的持久化键值存储
type KV interface {
	Get(ctx context.Context, keys ...string) (Record, error)
	Set(ctx context.Context, rec Record) error
	Remove(ctx context.Context, keys ...string) error
}

// Options 存储选项
type Options struct {
	Attempts int
	Delay    time.Duration
	Logger   logger.Logger
}

// Store 接力状态的唯一读写入口
type Store struct {
	kv       KV
	attempts uint
	delay    time.Duration
	log      logger.Logger
}

// New 创建接力存储
func New(kv KV, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Store{kv: kv, attempts: uint(opts.Attempts), delay: opts.Delay, log: opts.Logger}
}

// Load 读取接力状态
func (s *Store) Load(ctx context.Context) (model.HandoffState, error) {
	rec, err := s.kv.Get(ctx, KeyTargetIdentity, KeyAuthorized)
	if err != nil {
		return model.HandoffState{}, fmt.Errorf("load handoff: %w", err)
	}
	var st model.HandoffState
	if v, ok := rec[KeyTargetIdentity].(string); ok {
		st.TargetIdentity = v
	}
	if v, ok := rec[KeyAuthorized].(bool); ok {
		st.Authorized = v
	}
	// 缺少目标身份的授权没有意义，按未授权处理
	if st.TargetIdentity == "" {
		st.Authorized = false
	}
	return st, nil
}

// Save 同时写入两个键
func (s *Store) Save(ctx context.Context, st model.HandoffState) error {
	rec := Record{
		KeyTargetIdentity: st.TargetIdentity,
		KeyAuthorized:     st.Authorized,
	}
	err := retry.Do(
		func() error { return s.kv.Set(ctx, rec) },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("写入接力状态失败，重试", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// Clear 清除接力状态
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, KeyTargetIdentity, KeyAuthorized); err != nil {
		return fmt.Errorf("clear handoff: %w", err)
	}
	return nil
}

// MemoryKV 进程内实现
type MemoryKV struct {
	mu   sync.Mutex
	data Record
	// Fail 非空时所有操作返回该错误
	Fail error
}

// NewMemoryKV 创建内存存储
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(Record)}
}

func (m *MemoryKV) Get(_ context.Context, keys ...string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	out := make(Record, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	for k, v := range rec {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// SetFail 线程安全地设置故障
func (m *MemoryKV) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = err
}
