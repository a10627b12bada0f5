package stackcontext

import (
	"sync"

	"github.com/go-logr/logr"
)

// Warnings logs each keyed warning at most once per run.
type Warnings struct {
	log  logr.Logger
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewWarnings(log logr.Logger) *Warnings {
	return &Warnings{log: log, seen: map[string]struct{}{}}
}

// Warn logs msg the first time key is seen and reports whether it did.
func (w *Warnings) Warn(key, msg string, kv ...any) bool {
	w.mu.Lock()
	_, dup := w.seen[key]
	if !dup {
		w.seen[key] = struct{}{}
	}
	w.mu.Unlock()
	if dup {
		return false
	}
	w.log.Info("warning: "+msg, kv...)
	return true
}

func (w *Warnings) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}
