package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/p2-hub/internal/logging"
	"github.com/any-hub/p2-hub/internal/server"
)

// Forwarder 按 HubRoute.ModuleKey 选择已注册的 handler，未注册时回退到 defaultHandler，
// 并把 handler 的 panic 转成 500 JSON 响应。
type Forwarder struct {
	defaultHandler server.ProxyHandler
	logger         *logrus.Logger
}

// NewForwarder 创建 Forwarder。defaultHandler 可以为空，此时未注册模块的请求返回 500。
func NewForwarder(defaultHandler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		defaultHandler: defaultHandler,
		logger:         logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.HubRoute) (err error) {
	requestID := server.RequestID(c)
	handler := f.defaultHandler
	if route != nil {
		if registered := lookupModuleHandler(route.ModuleKey); registered != nil {
			handler = registered
		}
	}
	if handler == nil {
		f.logModuleError(route, "module_handler_missing", nil, requestID)
		return f.respondError(c, "module_handler_missing", requestID)
	}

	defer func() {
		if r := recover(); r != nil {
			f.logModuleError(route, "module_handler_panic", fmt.Errorf("panic: %v", r), requestID)
			err = f.respondError(c, "module_handler_panic", requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondError(c fiber.Ctx, code, requestID string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
}

func (f *Forwarder) logModuleError(route *server.HubRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	entry := logging.Request{RequestID: requestID}
	if route != nil {
		entry.Hub = route.Config.Name
		entry.Domain = route.Config.Domain
		entry.HubType = route.Config.Type
		entry.AuthMode = route.Config.AuthMode()
		entry.ModuleKey = route.ModuleKey
	}
	fields := logging.Merge(entry.Fields(), logrus.Fields{"action": "proxy", "error": code})
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("module handler unavailable")
}
