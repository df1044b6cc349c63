package rules

import (
	"regexp"
	"strings"
	"sync"

	"oauthpilot/internal/logger"
	"oauthpilot/pkg/model"

	"github.com/gobwas/glob"
)

// RegexPrefix 以正则表达式书写的规则模式前缀
const RegexPrefix = "re:"

// compiled 编译结果，err 非空表示该模式永不匹配
type compiled struct {
	match func(string) bool
	err   error
}

// Matcher 按列表顺序解析当前 URL 对应的规则，首个匹配者胜出
type Matcher struct {
	mu    sync.RWMutex
	cache map[string]compiled
	log   logger.Logger
}

// NewMatcher 创建匹配器
func NewMatcher(l logger.Logger) *Matcher {
	if l == nil {
		l = logger.NewNop()
	}
	return &Matcher{cache: make(map[string]compiled), log: l}
}

// Match 返回第一个模式匹配 url 的规则
func (m *Matcher) Match(url string, rs []model.Rule) (*model.Rule, bool) {
	for i := range rs {
		if m.matches(url, rs[i].Pattern) {
			r := rs[i]
			return &r, true
		}
	}
	return nil, false
}

// Valid 报告模式能否编译
func (m *Matcher) Valid(pattern string) error {
	return m.compile(pattern).err
}

func (m *Matcher) matches(url, pattern string) bool {
	c := m.compile(pattern)
	if c.err != nil {
		return false
	}
	return c.match(url)
}

func (m *Matcher) compile(pattern string) compiled {
	m.mu.RLock()
	c, ok := m.cache[pattern]
	m.mu.RUnlock()
	if ok {
		return c
	}

	c = build(pattern)
	if c.err != nil {
		// 每个坏模式只记录一次
		m.log.Warn("规则模式无法解析，已跳过", "pattern", pattern, "error", c.err)
	}
	m.mu.Lock()
	m.cache[pattern] = c
	m.mu.Unlock()
	return c
}

func build(pattern string) compiled {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return compiled{err: errEmptyPattern}
	}
	if expr, ok := strings.CutPrefix(p, RegexPrefix); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return compiled{err: err}
		}
		return compiled{match: re.MatchString}
	}
	if p == "<all_urls>" {
		return compiled{match: func(u string) bool {
			return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
		}}
	}
	g, err := glob.Compile(p)
	if err != nil {
		return compiled{err: err}
	}
	return compiled{match: g.Match}
}

type patternError string

func (e patternError) Error() string { return string(e) }

const errEmptyPattern = patternError("empty pattern")
