package routes

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/p2-hub/internal/hubmodule"
	"github.com/any-hub/p2-hub/internal/proxy/hooks"
	"github.com/any-hub/p2-hub/internal/server"
)

// RegisterModuleRoutes 注册只读诊断接口：
//
//	GET /-/modules        全部模块、hook 状态与仓库绑定
//	GET /-/modules/:key   单个模块
func RegisterModuleRoutes(app *fiber.App, registry *server.HubRegistry) {
	if app == nil || registry == nil {
		return
	}
	app.Get("/-/modules", listModules(registry))
	app.Get("/-/modules/:key", showModule)
}

func listModules(registry *server.HubRegistry) fiber.Handler {
	return func(c fiber.Ctx) error {
		status := hooks.Snapshot(hubmodule.Keys())
		return c.JSON(fiber.Map{
			"modules":       encodeModules(hubmodule.List(), status),
			"hubs":          encodeHubBindings(registry.List()),
			"hook_registry": status,
		})
	}
}

func showModule(c fiber.Ctx) error {
	key := strings.ToLower(strings.TrimSpace(c.Params("key")))
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "module_key_required"})
	}
	meta, ok := hubmodule.Resolve(key)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "module_not_found"})
	}
	payload := encodeModule(meta)
	payload.HookStatus = hooks.Status(key)
	return c.JSON(payload)
}

type modulePayload struct {
	Key                string                   `json:"key"`
	Description        string                   `json:"description"`
	MigrationState     hubmodule.MigrationState `json:"migration_state"`
	SupportedProtocols []string                 `json:"supported_protocols"`
	CacheStrategy      strategyPayload          `json:"cache_strategy"`
	HookStatus         string                   `json:"hook_status,omitempty"`
}

type strategyPayload struct {
	TTLSeconds         int64  `json:"ttl_seconds"`
	MetadataTTLSeconds int64  `json:"metadata_ttl_seconds"`
	ValidationMode     string `json:"validation_mode"`
	DiskLayout         string `json:"disk_layout"`
}

// hubBindingPayload 描述一个 p2 仓库的对外入口与改写开关。
type hubBindingPayload struct {
	HubName           string          `json:"hub_name"`
	ModuleKey         string          `json:"module_key"`
	Domain            string          `json:"domain,omitempty"`
	Path              string          `json:"path"`
	Port              int             `json:"port"`
	Upstream          string          `json:"upstream"`
	CacheStrategy     strategyPayload `json:"cache_strategy"`
	RemoveMirrors     bool            `json:"remove_mirrors"`
	FlattenComposites bool            `json:"flatten_composites"`
	CompositeMaxDepth int             `json:"composite_max_depth"`
}

func encodeModules(mods []hubmodule.ModuleMetadata, status map[string]string) []modulePayload {
	if len(mods) == 0 {
		return nil
	}
	out := make([]modulePayload, 0, len(mods))
	for _, meta := range mods {
		item := encodeModule(meta)
		item.HookStatus = status[meta.Key]
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b modulePayload) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

func encodeModule(meta hubmodule.ModuleMetadata) modulePayload {
	return modulePayload{
		Key:                meta.Key,
		Description:        meta.Description,
		MigrationState:     meta.MigrationState,
		SupportedProtocols: slices.Clone(meta.SupportedProtocols),
		CacheStrategy:      encodeStrategy(meta.CacheStrategy),
	}
}

func encodeStrategy(s hubmodule.CacheStrategyProfile) strategyPayload {
	return strategyPayload{
		TTLSeconds:         int64(s.TTLHint / time.Second),
		MetadataTTLSeconds: int64(s.MetadataTTLHint / time.Second),
		ValidationMode:     string(s.ValidationMode),
		DiskLayout:         s.DiskLayout,
	}
}

func encodeHubBindings(routes []server.HubRoute) []hubBindingPayload {
	if len(routes) == 0 {
		return nil
	}
	out := make([]hubBindingPayload, 0, len(routes))
	for _, route := range routes {
		binding := hubBindingPayload{
			HubName:           route.Config.Name,
			ModuleKey:         route.ModuleKey,
			Domain:            route.Config.Domain,
			Path:              "/repository/" + route.Config.Name + "/",
			Port:              route.ListenPort,
			CacheStrategy:     encodeStrategy(route.CacheStrategy),
			RemoveMirrors:     route.Config.MirrorRemovalEnabled(),
			FlattenComposites: route.Config.CompositeFlatteningEnabled(),
			CompositeMaxDepth: route.CompositeMaxDepth,
		}
		if route.UpstreamURL != nil {
			binding.Upstream = route.UpstreamURL.Redacted()
		}
		out = append(out, binding)
	}
	slices.SortFunc(out, func(a, b hubBindingPayload) int { return cmp.Compare(a.HubName, b.HubName) })
	return out
}
