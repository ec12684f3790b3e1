package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/p2-hub/internal/config"
	"github.com/any-hub/p2-hub/internal/hubmodule"
)

// HubRoute 是一个 p2 仓库在运行时的完整描述：配置副本、解析好的 URL
// 以及合并了 Hub 覆盖的缓存策略。请求处理期间只读。
type HubRoute struct {
	Config     config.HubConfig
	ListenPort int

	// CacheTTL 作用于组件包，MetadataTTL 作用于 content/artifacts/p2.index 等元数据。
	CacheTTL    time.Duration
	MetadataTTL time.Duration

	UpstreamURL *url.URL
	ProxyURL    *url.URL

	ModuleKey     string
	Module        hubmodule.ModuleMetadata
	CacheStrategy hubmodule.CacheStrategyProfile

	CompositeMaxDepth int
}

// HubRegistry 按域名与仓库名索引 HubRoute，启动时构建一次。
type HubRegistry struct {
	byHost  map[string]*HubRoute
	byName  map[string]*HubRoute
	ordered []*HubRoute
}

// NewHubRegistry 为每个 Hub 构建 HubRoute。仓库名与域名都必须唯一。
func NewHubRegistry(cfg *config.Config) (*HubRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	r := &HubRegistry{
		byHost: make(map[string]*HubRoute, len(cfg.Hubs)),
		byName: make(map[string]*HubRoute, len(cfg.Hubs)),
	}
	for _, hub := range cfg.Hubs {
		route, err := newHubRoute(cfg, hub)
		if err != nil {
			return nil, err
		}
		if err := r.add(route); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *HubRegistry) add(route *HubRoute) error {
	name := route.Config.Name
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("duplicate hub name %s", name)
	}
	if domain := strings.TrimSpace(route.Config.Domain); domain != "" {
		host := canonicalHost(domain)
		if host == "" {
			return fmt.Errorf("invalid domain for hub %s", name)
		}
		if _, dup := r.byHost[host]; dup {
			return fmt.Errorf("duplicate domain mapping detected for %s", host)
		}
		r.byHost[host] = route
	}
	r.byName[name] = route
	r.ordered = append(r.ordered, route)
	return nil
}

// Lookup 按 Host 头查找，忽略端口、大小写与结尾的点。
func (r *HubRegistry) Lookup(host string) (*HubRoute, bool) {
	if r == nil {
		return nil, false
	}
	key := canonicalHost(host)
	if key == "" {
		return nil, false
	}
	route, ok := r.byHost[key]
	return route, ok
}

// LookupName 对应 /repository/{name}/ 访问方式，仓库名区分大小写。
func (r *HubRegistry) LookupName(name string) (*HubRoute, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	route, ok := r.byName[name]
	return route, ok
}

// List 按配置顺序返回 HubRoute 的副本。
func (r *HubRegistry) List() []HubRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	out := make([]HubRoute, 0, len(r.ordered))
	for _, route := range r.ordered {
		out = append(out, *route)
	}
	return out
}

func newHubRoute(cfg *config.Config, hub config.HubConfig) (*HubRoute, error) {
	key := strings.ToLower(strings.TrimSpace(hub.Type))
	if key == "" {
		key = hubmodule.DefaultModuleKey()
	}
	meta, ok := hubmodule.Resolve(key)
	if !ok {
		return nil, fmt.Errorf("hub %s: module %s is not registered", hub.Name, key)
	}

	upstream, err := url.Parse(hub.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for hub %s: %w", hub.Name, err)
	}
	var proxyURL *url.URL
	if hub.Proxy != "" {
		if proxyURL, err = url.Parse(hub.Proxy); err != nil {
			return nil, fmt.Errorf("invalid proxy for hub %s: %w", hub.Name, err)
		}
	}

	overrides := hub.StrategyOverrides(cfg.EffectiveCacheTTL(hub), cfg.EffectiveMetadataTTL(hub))
	strategy := hubmodule.ResolveStrategy(meta, overrides)

	return &HubRoute{
		Config:            hub,
		ListenPort:        cfg.Global.ListenPort,
		CacheTTL:          strategy.TTLHint,
		MetadataTTL:       strategy.MetadataTTLHint,
		UpstreamURL:       upstream,
		ProxyURL:          proxyURL,
		ModuleKey:         meta.Key,
		Module:            meta,
		CacheStrategy:     strategy,
		CompositeMaxDepth: cfg.Global.CompositeMaxDepth,
	}, nil
}

// canonicalHost 去掉端口与结尾的点并转小写；IPv6 字面量需要带方括号。
func canonicalHost(raw string) string {
	host := strings.TrimSpace(raw)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if i := strings.LastIndexByte(host, ':'); i > 0 && !strings.Contains(host[:i], ":") {
		// 形如 "host:" 的残缺端口
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
