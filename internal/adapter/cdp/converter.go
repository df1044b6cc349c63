package cdp

import (
	"errors"
	"fmt"

	"oauthpilot/internal/dom"

	"github.com/tidwall/gjson"
)

// ErrMalformed 页面脚本返回了无法识别的结构
var ErrMalformed = errors.New("cdp: malformed script result")

// ToElements 将 querySelectorAll 快照数组转换为 Element 列表；{error} 为选择器错误
func ToElements(raw []byte) ([]dom.Element, error) {
	res := gjson.ParseBytes(raw)
	if res.Type == gjson.Null {
		return nil, nil
	}
	if err := scriptError(res); err != nil {
		return nil, err
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrMalformed, res.Type)
	}
	items := res.Array()
	out := make([]dom.Element, 0, len(items))
	for _, it := range items {
		out = append(out, toElement(it))
	}
	return out, nil
}

// ToClosest 解析 closest 脚本结果：{stale} / {error} / {element} / {}
func ToClosest(raw []byte) (*dom.Element, error) {
	res := gjson.ParseBytes(raw)
	if err := staleOf(res); err != nil {
		return nil, err
	}
	if err := scriptError(res); err != nil {
		return nil, err
	}
	el := res.Get("element")
	if !el.Exists() || el.Type == gjson.Null {
		return nil, nil
	}
	e := toElement(el)
	return &e, nil
}

// ToActionError 解析动作脚本结果：{stale} / {error} / {}
func ToActionError(raw []byte) error {
	res := gjson.ParseBytes(raw)
	if err := staleOf(res); err != nil {
		return err
	}
	if msg := res.Get("error"); msg.Exists() {
		return fmt.Errorf("cdp: in-page action failed: %s", msg.String())
	}
	return nil
}

// ToMutations 解析变更观察器通过绑定回传的批量负载
func ToMutations(payload string) ([]dom.Mutation, error) {
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("%w: invalid mutation payload", ErrMalformed)
	}
	res := gjson.Parse(payload)
	if !res.IsArray() {
		res = gjson.Parse("[" + payload + "]")
	}
	var out []dom.Mutation
	res.ForEach(func(_, v gjson.Result) bool {
		out = append(out, dom.Mutation{
			Kind:      v.Get("kind").String(),
			Tag:       v.Get("tag").String(),
			Buttonish: v.Get("buttonish").Bool(),
		})
		return true
	})
	return out, nil
}

func scriptError(res gjson.Result) error {
	if !res.IsObject() {
		return nil
	}
	if msg := res.Get("error"); msg.Exists() {
		return fmt.Errorf("cdp: in-page query failed: %s", msg.String())
	}
	return nil
}

func staleOf(res gjson.Result) error {
	if res.Get("stale").Bool() {
		return dom.ErrStaleElement
	}
	return nil
}

func toElement(v gjson.Result) dom.Element {
	el := dom.Element{
		Ref:      v.Get("ref").String(),
		Tag:      v.Get("tag").String(),
		Text:     v.Get("text").String(),
		OwnText:  v.Get("ownText").String(),
		Value:    v.Get("value").String(),
		Disabled: v.Get("disabled").Bool(),
		Rect: dom.Rect{
			Width:  v.Get("rect.width").Float(),
			Height: v.Get("rect.height").Float(),
		},
	}
	if attrs := v.Get("attrs"); attrs.IsObject() {
		el.Attrs = make(map[string]string)
		attrs.ForEach(func(k, val gjson.Result) bool {
			el.Attrs[k.String()] = val.String()
			return true
		})
	}
	return el
}
