package hubmodule

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

const defaultModuleKey = "p2"

var (
	ErrModuleKeyRequired = errors.New("module key is required")
	ErrModuleExists      = errors.New("module already registered")
)

// registry 保存 init() 阶段登记的模块元数据；启动后只读。
type registry struct {
	mu      sync.RWMutex
	modules map[string]ModuleMetadata
}

func newRegistry() *registry {
	return &registry{modules: map[string]ModuleMetadata{}}
}

var globalRegistry = newRegistry()

// Register 登记模块元数据。键统一为小写，缓存策略在登记时补齐默认值，
// 这样配置校验与 /-/modules 看到的是同一份策略。
func Register(meta ModuleMetadata) error {
	return globalRegistry.add(meta)
}

// MustRegister 供模块 init() 使用。
func MustRegister(meta ModuleMetadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 按键（不区分大小写）查找模块。
func Resolve(key string) (ModuleMetadata, bool) {
	return globalRegistry.get(key)
}

// List 返回按键排序的全部模块。
func List() []ModuleMetadata {
	return globalRegistry.snapshot()
}

// Keys 返回排序后的模块键。
func Keys() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	return slices.Sorted(maps.Keys(globalRegistry.modules))
}

func moduleKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (r *registry) add(meta ModuleMetadata) error {
	key := moduleKey(meta.Key)
	if key == "" {
		return ErrModuleKeyRequired
	}
	meta.Key = key
	meta.CacheStrategy = normalizeStrategy(meta.CacheStrategy)
	if meta.MigrationState == "" {
		meta.MigrationState = MigrationStateBeta
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.modules[key]; dup {
		return fmt.Errorf("%w: %s", ErrModuleExists, key)
	}
	r.modules[key] = meta
	return nil
}

func (r *registry) get(key string) (ModuleMetadata, bool) {
	normalized := moduleKey(key)
	if normalized == "" {
		return ModuleMetadata{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.modules[normalized]
	return meta, ok
}

func (r *registry) snapshot() []ModuleMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.modules) == 0 {
		return nil
	}
	out := make([]ModuleMetadata, 0, len(r.modules))
	for _, key := range slices.Sorted(maps.Keys(r.modules)) {
		out = append(out, r.modules[key])
	}
	return out
}
