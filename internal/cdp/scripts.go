package cdp

import (
	"encoding/json"
	"fmt"
)

// bindingName 变更观察器回传通道
const bindingName = "__oauthpilotMutation"

// prelude 每个脚本共用的元素登记与快照函数；引用表挂在 window 上，随文档重建而失效
const prelude = `
const w = window;
w.__oauthpilotRefs = w.__oauthpilotRefs || new Map();
w.__oauthpilotIds = w.__oauthpilotIds || new WeakMap();
w.__oauthpilotSeq = w.__oauthpilotSeq || 0;
const norm = (s) => String(s || '').replace(/\s+/g, ' ').trim();
const refOf = (el) => {
	let r = w.__oauthpilotIds.get(el);
	if (!r) {
		r = String(++w.__oauthpilotSeq);
		w.__oauthpilotIds.set(el, r);
		w.__oauthpilotRefs.set(r, el);
	}
	return r;
};
const lookup = (r) => {
	const el = w.__oauthpilotRefs.get(r);
	if (!el || !el.isConnected) return null;
	return el;
};
const snap = (el) => {
	const attrs = {};
	for (const a of el.attributes) attrs[a.name.toLowerCase()] = a.value;
	let own = '';
	for (const n of el.childNodes) if (n.nodeType === 3) own += n.textContent + ' ';
	const st = getComputedStyle(el);
	const hidden = st.display === 'none' || st.visibility === 'hidden';
	const r = el.getBoundingClientRect();
	return {
		ref: refOf(el),
		tag: el.tagName.toLowerCase(),
		attrs,
		text: norm(el.innerText || el.textContent),
		ownText: norm(own),
		value: typeof el.value === 'string' ? el.value : '',
		rect: {width: hidden ? 0 : r.width, height: hidden ? 0 : r.height},
		disabled: !!el.disabled || String(el.getAttribute('aria-disabled')).toLowerCase() === 'true',
	};
};
`

// observerScript 安装子树范围的变更观察器，批量经绑定回传；只在顶层文档安装一次
const observerScript = `(() => {
	if (window !== window.top || window.__oauthpilotObserver) return;
	const btn = 'button, a, [role="button"], input[type="button"], input[type="submit"]';
	const start = () => {
		if (window.__oauthpilotObserver) return;
		const root = document.documentElement;
		if (!root) return;
		const obs = new MutationObserver((records) => {
			const batch = [];
			for (const r of records) {
				const nodes = r.type === 'attributes' ? [r.target] : Array.from(r.addedNodes);
				let tag = r.target && r.target.tagName ? r.target.tagName.toLowerCase() : '';
				let buttonish = false;
				for (const n of nodes) {
					if (n.nodeType !== 1) continue;
					tag = n.tagName.toLowerCase();
					if (n.matches(btn) || n.querySelector(btn)) { buttonish = true; break; }
				}
				batch.push({kind: r.type, tag, buttonish});
			}
			try { window.` + bindingName + `(JSON.stringify(batch)); } catch (e) {}
		});
		obs.observe(root, {childList: true, subtree: true, attributes: true,
			attributeFilter: ['class', 'style', 'hidden', 'disabled', 'aria-disabled', 'aria-hidden']});
		window.__oauthpilotObserver = obs;
	};
	if (document.documentElement) start();
	else document.addEventListener('readystatechange', start);
})()`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func queryScript(selector string) string {
	return fmt.Sprintf(`(() => {%s
	let list;
	try { list = document.querySelectorAll(%s); } catch (e) { return {error: String(e && e.message || e)}; }
	return Array.from(list, snap);
})()`, prelude, jsString(selector))
}

func closestScript(ref, selector string) string {
	return fmt.Sprintf(`(() => {%s
	const el = lookup(%s);
	if (!el) return {stale: true};
	let c = null;
	try { c = el.closest(%s); } catch (e) { return {error: String(e && e.message || e)}; }
	return c ? {element: snap(c)} : {};
})()`, prelude, jsString(ref), jsString(selector))
}

// 各激活原语的页面内实现
const (
	bodyScroll  = `el.scrollIntoView({block: 'center', inline: 'center'});`
	bodyInvoke  = `el.click();`
	bodyPointer = `const o = {bubbles: true, cancelable: true, composed: true, view: window, button: 0};
	el.dispatchEvent(new PointerEvent('pointerdown', o));
	el.dispatchEvent(new MouseEvent('mousedown', o));
	el.dispatchEvent(new PointerEvent('pointerup', o));
	el.dispatchEvent(new MouseEvent('mouseup', o));`
	bodyClick = `el.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, composed: true, view: window, button: 0}));`
)

func actionScript(ref, body string) string {
	return fmt.Sprintf(`(() => {%s
	const el = lookup(%s);
	if (!el) return {stale: true};
	try { %s } catch (e) { return {error: String(e && e.message || e)}; }
	return {};
})()`, prelude, jsString(ref), body)
}

const locationScript = `location.href`
