package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	base   *zap.Logger
	named  = map[string]*zap.SugaredLogger{}
)

func init() {
	base, _ = zap.NewProduction()
	if base == nil {
		base = zap.NewNop()
	}
}

// SetBase replaces the underlying zap.Logger used to derive named loggers.
// Intended for tests that want to redirect logs to an observer core.
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	named = map[string]*zap.SugaredLogger{}
}

// Named returns the sugared logger for a component, creating and caching it
// on first use.
func Named(name string) *zap.SugaredLogger {
	mu.RLock()
	l, ok := named[name]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := named[name]; ok {
		return l
	}
	l = base.Named(name).Sugar()
	named[name] = l
	return l
}
