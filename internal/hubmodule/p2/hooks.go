package p2

import (
	"strings"

	p2core "github.com/any-hub/p2-hub/internal/p2"
	"github.com/any-hub/p2-hub/internal/proxy/hooks"
)

func init() {
	hooks.MustRegister("p2", hooks.Hooks{
		NormalizePath:   normalizePath,
		ResolveUpstream: resolveUpstream,
		CachePolicy:     cachePolicy,
		ContentType:     contentType,
	})
}

// normalizePath 丢弃查询串：p2 客户端会附带 countryCode/timeZone 等统计参数，
// 它们不影响内容，保留会让同一文件产生多份缓存。
func normalizePath(_ *hooks.RequestContext, cleanPath string, _ []byte) (string, []byte) {
	return cleanPath, nil
}

// resolveUpstream 处理展平后的子仓库路径：http/<host>/... 与 https/<host>/... 直接访问绝对地址。
func resolveUpstream(_ *hooks.RequestContext, baseURL string, path string, _ []byte) string {
	if absolute, ok := p2core.UnescapePathToURI(path); ok {
		return absolute
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// cachePolicy 组件包以 name_version 命名，内容不可变，无需再验证；元数据需要按 TTL 再验证。
func cachePolicy(_ *hooks.RequestContext, locatorPath string, current hooks.CachePolicy) hooks.CachePolicy {
	kind, err := p2core.Classify(locatorPath)
	if err != nil {
		current.AllowCache = false
		current.AllowStore = false
		current.RequireRevalidate = false
		return current
	}
	current.AllowCache = true
	current.AllowStore = true
	current.RequireRevalidate = kind.IsMetadata()
	return current
}

func contentType(_ *hooks.RequestContext, locatorPath string) string {
	switch {
	case strings.HasSuffix(locatorPath, ".jar.pack.gz"), strings.HasSuffix(locatorPath, ".pack.gz"):
		return "application/x-gzip"
	case strings.HasSuffix(locatorPath, ".jar"):
		return "application/java-archive"
	case strings.HasSuffix(locatorPath, ".xml.xz"):
		return "application/x-xz"
	case strings.HasSuffix(locatorPath, ".xml"):
		return "application/xml"
	case strings.HasSuffix(locatorPath, "p2.index"):
		return "text/plain"
	}
	return "application/octet-stream"
}
