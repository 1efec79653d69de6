package nlu

import (
	"strings"

	"neurahome/internal/action"
)

// Local maps text to an action with ordered keyword tables. It does no I/O
// and is safe for concurrent use.
type Local struct {
	cats []action.Category
}

func NewLocal(cats []action.Category) *Local {
	folded := make([]action.Category, len(cats))
	for i, c := range cats {
		c.Keywords = foldAll(c.Keywords)
		c.Off = foldAll(c.Off)
		c.On = foldAll(c.On)
		folded[i] = c
	}
	return &Local{cats: folded}
}

// Resolve returns the first category whose keyword appears in text, taking
// its off action when any off phrase matches and its on action otherwise.
// A category with a keyword but no state phrase falls through to the next.
func (l *Local) Resolve(text string) action.Action {
	s := Fold(text)
	if s == "" {
		return action.Unknown
	}

	for _, c := range l.cats {
		if !containsAny(s, c.Keywords) {
			continue
		}
		if containsAny(s, c.Off) {
			return c.OffCmd
		}
		if containsAny(s, c.On) {
			return c.OnCmd
		}
	}
	return action.Unknown
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if f := Fold(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}
