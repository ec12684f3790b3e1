// Package hooks 定义模块可以插入代理流程的扩展点。它不依赖 server/proxy，
// 模块包（如 hubmodule/p2）在 init() 中注册自己的 hook。
package hooks

// CachePolicy 是代理对单个资源的缓存决策，hook 可在默认值基础上调整。
type CachePolicy struct {
	AllowCache        bool
	AllowStore        bool
	RequireRevalidate bool
}

// RequestContext 暴露 hook 需要的路由与请求信息。
type RequestContext struct {
	HubName      string
	Domain       string
	HubType      string
	ModuleKey    string
	UpstreamHost string
	Method       string
}

// Hooks 汇总模块的扩展点，未设置的字段使用代理默认行为。
//
// NormalizePath 接收已经 path.Clean 的仓库内路径（以 "/" 开头），
// ResolveUpstream 返回完整的上游 URL，空串表示使用默认拼接。
// CachePolicy 与 ContentType 的 assetPath 不带前导 "/"。
type Hooks struct {
	NormalizePath   func(ctx *RequestContext, cleanPath string, rawQuery []byte) (string, []byte)
	ResolveUpstream func(ctx *RequestContext, baseURL string, cleanPath string, rawQuery []byte) string
	CachePolicy     func(ctx *RequestContext, assetPath string, current CachePolicy) CachePolicy
	ContentType     func(ctx *RequestContext, assetPath string) string
}
