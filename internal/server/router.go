package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler 处理已经解析出 HubRoute 的仓库请求，测试中可以替换为桩实现。
type ProxyHandler interface {
	Handle(fiber.Ctx, *HubRoute) error
}

// ProxyHandlerFunc adapts a plain function to ProxyHandler.
type ProxyHandlerFunc func(fiber.Ctx, *HubRoute) error

func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *HubRoute) error {
	return f(c, route)
}

type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *HubRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRoute     = "_anyhub_route"
	contextKeyRequestID = "_anyhub_request_id"
	contextKeyPath      = "_anyhub_repository_path"

	repositoryPrefix  = "/repository/"
	diagnosticsPrefix = "/-/"
	headerRequestID   = "X-Request-ID"
)

// NewApp 构造 Fiber 应用：所有非 /-/ 路径先经 repositoryResolver 绑定 HubRoute，
// 再交给 ProxyHandler。诊断路由由调用方在返回的 app 上另行注册。
func NewApp(opts AppOptions) (*fiber.App, error) {
	switch {
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Registry == nil:
		return nil, errors.New("hub registry is required")
	case opts.Proxy == nil:
		return nil, errors.New("proxy handler is required")
	case opts.ListenPort <= 0:
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	resolver := &repositoryResolver{registry: opts.Registry, logger: opts.Logger, port: opts.ListenPort}

	app := fiber.New(fiber.Config{
		AppName:       "p2-hub",
		CaseSensitive: true,
	})
	app.Use(recover.New())
	app.Use(assignRequestID)
	app.Use(resolver.middleware)
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(requestPath(c)) {
			return c.Next()
		}
		route, ok := getRouteFromContext(c)
		if !ok {
			return resolver.reject(c, unmappedHost(""))
		}
		return opts.Proxy.Handle(c, route)
	})
	return app, nil
}

// assignRequestID 沿用客户端传入的合法 UUID，否则生成新的请求 ID。
func assignRequestID(c fiber.Ctx) error {
	reqID := strings.TrimSpace(c.Get(headerRequestID))
	if _, err := uuid.Parse(reqID); err != nil {
		reqID = uuid.NewString()
	}
	c.Locals(contextKeyRequestID, reqID)
	c.Set(headerRequestID, reqID)
	return c.Next()
}

// repositoryResolver 把请求映射到 HubRoute：先匹配 /repository/{name}/ 前缀，
// 再匹配 Host 头。
type repositoryResolver struct {
	registry *HubRegistry
	logger   *logrus.Logger
	port     int
}

// lookupFailure 描述路由未命中时返回给客户端的错误码与日志字段。
type lookupFailure struct {
	code   string
	action string
	fields logrus.Fields
	host   string
}

func unmappedHost(host string) lookupFailure {
	return lookupFailure{
		code:   "host_unmapped",
		action: "host_lookup",
		fields: logrus.Fields{"host": host},
		host:   host,
	}
}

func unmappedRepository(name string) lookupFailure {
	return lookupFailure{
		code:   "repository_not_found",
		action: "repository_lookup",
		fields: logrus.Fields{"repository": name},
	}
}

func (r *repositoryResolver) middleware(c fiber.Ctx) error {
	reqPath := requestPath(c)
	if isDiagnosticsPath(reqPath) {
		return c.Next()
	}

	if name, rest, ok := splitRepositoryPath(reqPath); ok {
		route, found := r.registry.LookupName(name)
		if !found {
			return r.reject(c, unmappedRepository(name))
		}
		c.Locals(contextKeyRoute, route)
		c.Locals(contextKeyPath, rest)
		return c.Next()
	}

	host := strings.TrimSpace(hostHeader(c))
	route, found := r.registry.Lookup(host)
	if !found {
		return r.reject(c, unmappedHost(host))
	}
	c.Locals(contextKeyRoute, route)
	return c.Next()
}

func (r *repositoryResolver) reject(c fiber.Ctx, failure lookupFailure) error {
	fields := logrus.Fields{"action": failure.action, "port": r.port, "request_id": RequestID(c)}
	for k, v := range failure.fields {
		fields[k] = v
	}
	r.logger.WithFields(fields).Warn("no repository matched request")

	if failure.host != "" {
		c.Set("X-Any-Hub-Host", failure.host)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": failure.code})
}

// splitRepositoryPath 把 /repository/{name}/rest 拆成仓库名与仓库内路径（以 "/" 开头）。
func splitRepositoryPath(p string) (name, rest string, ok bool) {
	remainder, found := strings.CutPrefix(p, repositoryPrefix)
	if !found {
		return "", "", false
	}
	name, rest, _ = strings.Cut(remainder, "/")
	if name == "" {
		return "", "", false
	}
	return name, "/" + rest, true
}

func requestPath(c fiber.Ctx) string {
	return string(c.Request().URI().Path())
}

func hostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func getRouteFromContext(c fiber.Ctx) (*HubRoute, bool) {
	route, ok := c.Locals(contextKeyRoute).(*HubRoute)
	return route, ok && route != nil
}

// RequestID 返回中间件分配的请求 ID。
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(contextKeyRequestID).(string)
	return reqID
}

// RepositoryPath 返回仓库内路径：路径模式下已去掉 /repository/{name} 前缀，
// 域名模式下等于原始请求路径。
func RepositoryPath(c fiber.Ctx) string {
	if p, ok := c.Locals(contextKeyPath).(string); ok {
		return p
	}
	return requestPath(c)
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, diagnosticsPrefix)
}
