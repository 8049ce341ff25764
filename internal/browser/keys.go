package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

var modifierKeys = map[string]input.Modifier{
	"control": input.ModifierCtrl,
	"ctrl":    input.ModifierCtrl,
	"shift":   input.ModifierShift,
	"alt":     input.ModifierAlt,
	"option":  input.ModifierAlt,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
	"command": input.ModifierMeta,
}

// keyChord is a key plus held modifiers, parsed from names like "Control+A"
type keyChord struct {
	Key       string
	Modifiers []input.Modifier
}

func parseKey(name string) (keyChord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return keyChord{}, fmt.Errorf("empty key name")
	}
	// "+" on its own is a key, not a separator
	parts := []string{name}
	if name != "+" {
		parts = strings.Split(name, "+")
	}

	var chord keyChord
	for i, part := range parts {
		last := i == len(parts)-1
		lower := strings.ToLower(strings.TrimSpace(part))
		if !last {
			mod, ok := modifierKeys[lower]
			if !ok {
				return keyChord{}, fmt.Errorf("unknown modifier %q in %q", part, name)
			}
			chord.Modifiers = append(chord.Modifiers, mod)
			continue
		}
		if k, ok := namedKeys[lower]; ok {
			chord.Key = k
		} else if len([]rune(part)) == 1 {
			chord.Key = part
		} else {
			return keyChord{}, fmt.Errorf("unknown key %q", part)
		}
	}
	return chord, nil
}
