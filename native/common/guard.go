package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of module names, as loaded
// from operator configuration.
type StaticPauses map[string]bool

func NewStaticPauses(modules ...string) StaticPauses {
	out := make(StaticPauses, len(modules))
	for _, module := range modules {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			out[trimmed] = true
		}
	}
	return out
}

func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[strings.ToLower(module)]
}

// AnyPaused reports a module paused when any of the views does.
type AnyPaused []PauseView

func (a AnyPaused) IsPaused(module string) bool {
	for _, view := range a {
		if view != nil && view.IsPaused(module) {
			return true
		}
	}
	return false
}
