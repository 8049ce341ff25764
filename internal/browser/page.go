package browser

import (
	"github.com/lance13c/casepilot/internal/action"
	"github.com/lance13c/casepilot/internal/automation"
	"github.com/lance13c/casepilot/internal/llm"
)

// pageElement is an interactive element as reported by collectElementsJS
type pageElement struct {
	ID       int             `json:"id"`
	Tag      string          `json:"tag"`
	Role     string          `json:"role"`
	Text     string          `json:"text"`
	Selector string          `json:"selector"`
	Rect     automation.Rect `json:"rect"`
}

func (e pageElement) center() action.Point {
	return action.Point{X: e.Rect.Left + e.Rect.Width/2, Y: e.Rect.Top + e.Rect.Height/2}
}

func (e pageElement) contains(p action.Point) bool {
	r := e.Rect
	return p.X >= r.Left && p.X <= r.Left+r.Width && p.Y >= r.Top && p.Y <= r.Top+r.Height
}

func (e pageElement) toElement() automation.Element {
	return automation.Element{Center: e.center(), Rect: e.Rect, Selector: e.Selector, Text: e.Text}
}

func (e pageElement) summary() llm.PageElement {
	return llm.PageElement{ID: e.ID, Tag: e.Tag, Role: e.Role, Text: e.Text}
}

// snapshot is everything captured of the page for one model call
type snapshot struct {
	URL        string
	Title      string
	HTML       string
	Elements   []pageElement
	Screenshot []byte
}

func (s *snapshot) element(id int) (pageElement, bool) {
	for _, e := range s.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return pageElement{}, false
}

// elementAt returns the smallest element containing p
func (s *snapshot) elementAt(p action.Point) (pageElement, bool) {
	var best pageElement
	found := false
	for _, e := range s.Elements {
		if !e.contains(p) {
			continue
		}
		if !found || e.Rect.Width*e.Rect.Height < best.Rect.Width*best.Rect.Height {
			best, found = e, true
		}
	}
	return best, found
}

const collectElementsJS = `(() => {
	const selectors = 'a[href], button, input:not([type="hidden"]), select, textarea, summary, label, [role], [onclick], [contenteditable="true"], [tabindex]:not([tabindex="-1"]), h1, h2, h3, img[alt]';
	const seen = new Set();
	const out = [];
	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const testId = el.getAttribute('data-testid');
		if (testId) return '[data-testid="' + testId + '"]';
		const parts = [];
		for (let n = el; n && n.nodeType === 1 && parts.length < 5; n = n.parentElement) {
			let part = n.tagName.toLowerCase();
			const parent = n.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(c => c.tagName === n.tagName);
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(n) + 1) + ')';
			}
			parts.unshift(part);
			if (n.id) { parts[0] = '#' + CSS.escape(n.id); break; }
		}
		return parts.join(' > ');
	};
	document.querySelectorAll(selectors).forEach(el => {
		if (seen.has(el)) return;
		seen.add(el);
		const r = el.getBoundingClientRect();
		if (r.width < 1 || r.height < 1) return;
		if (r.bottom < 0 || r.right < 0 || r.top > window.innerHeight || r.left > window.innerWidth) return;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') return;
		const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.placeholder || el.alt || el.title || '').trim().replace(/\s+/g, ' ').slice(0, 80);
		out.push({
			id: out.length + 1,
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute('role') || (el.type && el.tagName === 'INPUT' ? el.type : ''),
			text: text,
			selector: cssPath(el),
			rect: {left: r.left, top: r.top, width: r.width, height: r.height},
		});
	});
	return out;
})()`

const xpathRectJS = `((xpath) => {
	const el = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return null;
	el.scrollIntoView({block: 'center', inline: 'center'});
	const r = el.getBoundingClientRect();
	return {id: 0, tag: el.tagName.toLowerCase(), role: el.getAttribute('role') || '', text: (el.innerText || el.value || '').trim().slice(0, 80), selector: '', rect: {left: r.left, top: r.top, width: r.width, height: r.height}};
})(%s)`

const clearFocusedJS = `(() => {
	const el = document.activeElement;
	if (!el) return false;
	if ('value' in el) {
		el.value = '';
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}
	if (el.isContentEditable) { el.textContent = ''; return true; }
	return false;
})()`

const scrollEdgeJS = `((x, y, dir) => {
	let el = document.elementFromPoint(x, y);
	while (el && el !== document.body && el !== document.documentElement) {
		const s = window.getComputedStyle(el);
		const scrollable = /(auto|scroll)/.test(s.overflow + s.overflowY + s.overflowX);
		if (scrollable && (el.scrollHeight > el.clientHeight || el.scrollWidth > el.clientWidth)) break;
		el = el.parentElement;
	}
	const target = (!el || el === document.body || el === document.documentElement) ? document.scrollingElement : el;
	switch (dir) {
	case 'untilBottom': target.scrollTop = target.scrollHeight; break;
	case 'untilTop': target.scrollTop = 0; break;
	case 'untilLeft': target.scrollLeft = 0; break;
	case 'untilRight': target.scrollLeft = target.scrollWidth; break;
	}
	return true;
})(%f, %f, %q)`

const viewportJS = `[window.innerWidth, window.innerHeight]`
