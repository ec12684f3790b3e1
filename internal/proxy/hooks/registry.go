package hooks

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	StatusRegistered = "registered"
	StatusMissing    = "missing"
)

var (
	// ErrDuplicateHook 表示该模块键已经注册过 hook。
	ErrDuplicateHook = errors.New("hook already registered")
	ErrEmptyKey      = errors.New("module key required")
)

type registry struct {
	mu    sync.RWMutex
	byKey map[string]Hooks
}

func newRegistry() *registry {
	return &registry{byKey: make(map[string]Hooks)}
}

var global = newRegistry()

// Register 为模块键登记 hook，键不区分大小写。
func Register(moduleKey string, h Hooks) error {
	return global.register(moduleKey, h)
}

// MustRegister 供模块 init() 使用，失败时 panic。
func MustRegister(moduleKey string, h Hooks) {
	if err := Register(moduleKey, h); err != nil {
		panic(fmt.Sprintf("register hooks for %q: %v", moduleKey, err))
	}
}

// Fetch 返回模块键对应的 hook。
func Fetch(moduleKey string) (Hooks, bool) {
	return global.lookup(moduleKey)
}

// Status 返回 registered 或 missing，用于 /-/modules 诊断输出。
func Status(moduleKey string) string {
	if _, ok := Fetch(moduleKey); ok {
		return StatusRegistered
	}
	return StatusMissing
}

// Snapshot 批量返回模块键的 hook 状态，空键被忽略。
func Snapshot(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if k := normalizeKey(key); k != "" {
			out[k] = Status(k)
		}
	}
	return out
}

func (r *registry) register(moduleKey string, h Hooks) error {
	key := normalizeKey(moduleKey)
	if key == "" {
		return ErrEmptyKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[key]; exists {
		return ErrDuplicateHook
	}
	r.byKey[key] = h
	return nil
}

func (r *registry) lookup(moduleKey string) (Hooks, bool) {
	key := normalizeKey(moduleKey)
	if key == "" {
		return Hooks{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byKey[key]
	return h, ok
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
