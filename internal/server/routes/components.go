package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/p2-hub/internal/content"
	"github.com/any-hub/p2-hub/internal/server"
)

// ComponentLister 由 content.Store 实现，测试中可替换。
type ComponentLister interface {
	ListComponents(ctx context.Context, repository string) ([]content.ComponentSummary, error)
}

// RegisterComponentRoutes 暴露 /-/components/:hub，列出仓库内已缓存的组件。
func RegisterComponentRoutes(app *fiber.App, registry *server.HubRegistry, lister ComponentLister) {
	if app == nil || registry == nil || lister == nil {
		return
	}

	app.Get("/-/components/:hub", func(c fiber.Ctx) error {
		name := c.Params("hub")
		if _, ok := registry.LookupName(name); !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repository_not_found"})
		}
		items, err := lister.ListComponents(c.Context(), name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "component_list_failed"})
		}
		if items == nil {
			items = []content.ComponentSummary{}
		}
		return c.JSON(fiber.Map{
			"repository": name,
			"components": items,
		})
	})
}
