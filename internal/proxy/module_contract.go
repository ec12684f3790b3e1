package proxy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/any-hub/p2-hub/internal/server"
)

var moduleHandlers sync.Map

// ErrModuleHandlerExists 表示该 module_key 已注册过 handler。
var ErrModuleHandlerExists = errors.New("module handler already registered")

// ModuleRegistration 绑定 module_key 与处理该模块请求的 handler。
type ModuleRegistration struct {
	Key     string
	Handler server.ProxyHandler
}

// Validate ensures both key and handler are present.
func (r ModuleRegistration) Validate() error {
	if normalizeModuleKey(r.Key) == "" {
		return errors.New("module key required")
	}
	if r.Handler == nil {
		return errors.New("module handler required")
	}
	return nil
}

// RegisterModule 注册模块 handler，同一 key 只能注册一次。
func RegisterModule(reg ModuleRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	key := normalizeModuleKey(reg.Key)
	if _, loaded := moduleHandlers.LoadOrStore(key, reg.Handler); loaded {
		return fmt.Errorf("%w: %s", ErrModuleHandlerExists, key)
	}
	return nil
}

// MustRegisterModule panics when registration fails.
func MustRegisterModule(reg ModuleRegistration) {
	if err := RegisterModule(reg); err != nil {
		panic(err)
	}
}

func lookupModuleHandler(key string) server.ProxyHandler {
	normalized := normalizeModuleKey(key)
	if normalized == "" {
		return nil
	}
	if value, ok := moduleHandlers.Load(normalized); ok {
		if handler, ok := value.(server.ProxyHandler); ok {
			return handler
		}
	}
	return nil
}

func normalizeModuleKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
