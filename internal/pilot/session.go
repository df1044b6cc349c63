package pilot

import (
	"sync"
	"time"

	"oauthpilot/pkg/model"
)

// ScanSession 单个页面实例的内存状态，随页面加载创建、随导航销毁
type ScanSession struct {
	mu              sync.Mutex
	cachedRules     []model.Rule
	lastAlertedRule model.RuleID
	lastCheckTime   time.Time
	loginInProgress bool
	timers          []*time.Timer
	disposed        bool
}

func newScanSession() *ScanSession {
	return &ScanSession{}
}

// Rules 缓存规则的副本
func (s *ScanSession) Rules() []model.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Rule(nil), s.cachedRules...)
}

// SetRules 替换缓存规则
func (s *ScanSession) SetRules(rs []model.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedRules = append([]model.Rule(nil), rs...)
}

// BeginLogin 置位登录进行中；已置位或已销毁时返回 false
func (s *ScanSession) BeginLogin(rule model.RuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loginInProgress || s.disposed {
		return false
	}
	s.loginInProgress = true
	s.lastAlertedRule = rule
	return true
}

// EndLogin 清除登录进行中
func (s *ScanSession) EndLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginInProgress = false
}

// LoginInProgress 当前是否有流程在进行
func (s *ScanSession) LoginInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginInProgress
}

// Alerted 该规则是否已在当前地址上发起过流程；登录标志清除后仍然有效，
// 直到地址或匹配规则变化
func (s *ScanSession) Alerted(rule model.RuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rule != "" && s.lastAlertedRule == rule
}

// ClearAlert 地址或匹配规则变化后允许再次发起
func (s *ScanSession) ClearAlert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlertedRule = ""
}

// LastAlertedRule 最近一次发起流程的规则
func (s *ScanSession) LastAlertedRule() model.RuleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAlertedRule
}

// Checked 记录一次扫描时间
func (s *ScanSession) Checked(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckTime = t
}

// LastCheck 最近扫描时间
func (s *ScanSession) LastCheck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheckTime
}

// After 注册随会话销毁的定时器
func (s *ScanSession) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}

// dispose 停止所有定时器
func (s *ScanSession) dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}
