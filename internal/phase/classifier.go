// Package phase 判定外部身份流程所处阶段，并在每个阶段入口执行授权检查。
package phase

import (
	"net/url"
	"strings"

	"oauthpilot/internal/config"
	"oauthpilot/pkg/model"
)

// Classifier 纯函数式的 URL 阶段分类
type Classifier struct {
	hosts        []string
	chooser      []string
	confirmation []string
}

// NewClassifier 由提供方配置创建分类器
func NewClassifier(p config.Provider) *Classifier {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return &Classifier{
		hosts:        lower(p.Hosts),
		chooser:      lower(p.ChooserPaths),
		confirmation: lower(p.ConfirmationPaths),
	}
}

// Classify 先判确认页再判选择页：确认页路径是选择页匹配空间的子集
func (c *Classifier) Classify(raw string) model.Phase {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return model.PhaseNone
	}
	if !c.providerHost(strings.ToLower(u.Hostname())) {
		return model.PhaseNone
	}
	path := strings.ToLower(u.EscapedPath())
	if containsAny(path, c.confirmation) {
		return model.PhaseConfirmation
	}
	if containsAny(path, c.chooser) {
		return model.PhaseChooser
	}
	return model.PhaseNone
}

// IsProvider 地址是否属于提供方
func (c *Classifier) IsProvider(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && c.providerHost(strings.ToLower(u.Hostname()))
}

func (c *Classifier) providerHost(host string) bool {
	for _, h := range c.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// containsAny 在路径中查找任一片段，片段必须止于路径段边界
func containsAny(path string, subs []string) bool {
	for _, sub := range subs {
		for from := 0; from <= len(path)-len(sub); {
			i := strings.Index(path[from:], sub)
			if i < 0 {
				break
			}
			end := from + i + len(sub)
			if end == len(path) || path[end] == '/' || strings.HasSuffix(sub, "/") {
				return true
			}
			from += i + 1
		}
	}
	return false
}
