// Package detect 在任意页面上识别“使用身份提供方登录”入口。
//
// 每个信号通道都要求动作类关键词与提供方关键词同时出现，
// 仅含提供方关键词的元素永远不会命中。
package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"oauthpilot/internal/dom"
	"oauthpilot/internal/logger"
)

// CandidateSelector 可交互元素
const CandidateSelector = `button, a[href], [role="button"], input[type="button"], input[type="submit"]`

// Channel 命中的信号通道
type Channel string

const (
	ChannelText  Channel = "text"
	ChannelLabel Channel = "aria-label"
	ChannelTitle Channel = "title"
	ChannelIdiom Channel = "idiom"
)

// actionRe 动作关键词按子串匹配，允许嵌在驼峰或连写的词里（GoogleSignIn、Sign-in）
var actionRe = regexp.MustCompile(`(?i)(log[\s_-]?in|sign[\s_-]?in)`)

// ActionIdioms 已知的类名/ID 命名习惯，每条都携带动作关键词
var ActionIdioms = []string{
	"login-with-%s",
	"signin-with-%s",
	"sign-in-with-%s",
	"%s-login",
	"%s-signin",
	"%s-sign-in",
	"%s-login-button",
	"%s-signin-button",
	"signin-%s",
	"login-%s",
	"g_id_signin",
}

// Match 一个命中的入口
type Match struct {
	Element dom.Element
	Channel Channel
}

// Detector 入口检测器
type Detector struct {
	provider *regexp.Regexp
	keyword  string
	idioms   []string
	limit    int
	log      logger.Logger
}

// New 创建检测器；keyword 为提供方关键词，limit 为候选上限
func New(keyword string, limit int, l logger.Logger) *Detector {
	if l == nil {
		l = logger.NewNop()
	}
	kw := strings.ToLower(strings.TrimSpace(keyword))
	idioms := make([]string, 0, len(ActionIdioms))
	for _, f := range ActionIdioms {
		if strings.Contains(f, "%s") {
			f = fmt.Sprintf(f, kw)
		}
		idioms = append(idioms, f)
	}
	return &Detector{
		provider: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(kw)),
		keyword:  kw,
		idioms:   idioms,
		limit:    limit,
		log:      l,
	}
}

// Detect 扫描页面，按文档顺序返回所有命中
func (d *Detector) Detect(ctx context.Context, page dom.Page) ([]Match, error) {
	els, err := page.QueryAll(ctx, CandidateSelector)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	if d.limit > 0 && len(els) > d.limit {
		els = els[:d.limit]
	}
	var out []Match
	for _, el := range els {
		if ch, ok := d.Classify(el); ok {
			out = append(out, Match{Element: el, Channel: ch})
		}
	}
	d.log.Debug("入口扫描完成", "candidates", len(els), "matches", len(out))
	return out, nil
}

// Classify 判断单个元素是否为入口，返回首个命中的通道
func (d *Detector) Classify(el dom.Element) (Channel, bool) {
	text := el.Text + " " + el.Value
	label := el.Attr("aria-label")
	title := el.Attr("title")

	switch {
	case d.both(text):
		return ChannelText, true
	case d.both(label):
		return ChannelLabel, true
	case d.both(title):
		return ChannelTitle, true
	}

	idiom, ok := d.idiomToken(el)
	if !ok {
		return "", false
	}
	// 习惯命名自带动作词，还需在元素某处出现提供方关键词
	elsewhere := strings.Join([]string{
		idiom, text, label, title,
		el.Attr("data-provider"), el.Attr("alt"), el.Attr("href"),
	}, " ")
	if d.provider.MatchString(elsewhere) {
		return ChannelIdiom, true
	}
	return "", false
}

func (d *Detector) both(s string) bool {
	return s != "" && actionRe.MatchString(s) && d.provider.MatchString(s)
}

func (d *Detector) idiomToken(el dom.Element) (string, bool) {
	tokens := strings.Fields(strings.ToLower(el.Attr("class")))
	if id := strings.ToLower(el.Attr("id")); id != "" {
		tokens = append(tokens, id)
	}
	// 去掉分隔符后比较，googleSignIn / google_sign_in / google-signin 视为同一写法
	for _, tok := range tokens {
		flat := squash(tok)
		for _, idiom := range d.idioms {
			if strings.Contains(flat, squash(idiom)) {
				return idiom, true
			}
		}
	}
	return "", false
}

func squash(s string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}
