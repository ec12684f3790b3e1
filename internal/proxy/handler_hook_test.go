package proxy

import (
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/p2-hub/internal/config"
	"github.com/any-hub/p2-hub/internal/proxy/hooks"
	"github.com/any-hub/p2-hub/internal/server"
)

func testRoute(t *testing.T, upstream string) *server.HubRoute {
	t.Helper()
	base, err := url.Parse(upstream)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}
	return &server.HubRoute{
		Config:      config.HubConfig{Name: "eclipse", Type: "p2"},
		UpstreamURL: base,
		ModuleKey:   "p2",
	}
}

func TestResolveUpstreamPrefersHook(t *testing.T) {
	route := testRoute(t, "https://up.example")
	hook := &hookState{
		ctx: &hooks.RequestContext{},
		def: hooks.Hooks{
			ResolveUpstream: func(_ *hooks.RequestContext, upstream string, clean string, rawQuery []byte) string {
				return upstream + "/hooked"
			},
		},
		hasHooks: true,
		clean:    "/ignored",
		rawQuery: []byte("ignored=1"),
	}

	target := resolveUpstreamURL(route, hook)
	if target.String() != "https://up.example/hooked" {
		t.Fatalf("expected hook override, got %s", target.String())
	}
}

func TestResolveUpstreamWithoutHookJoinsBasePath(t *testing.T) {
	route := testRoute(t, "https://download.eclipse.org/releases/2024-03/")
	hook := &hookState{clean: "/plugins/a_1.0.0.jar", rawQuery: []byte("x=1")}

	target := resolveUpstreamURL(route, hook)
	if target.String() != "https://download.eclipse.org/releases/2024-03/plugins/a_1.0.0.jar?x=1" {
		t.Fatalf("unexpected upstream %s", target.String())
	}
}

func TestResolveUpstreamUnescapesFlattenedChild(t *testing.T) {
	def, ok := hooks.Fetch("p2")
	if !ok {
		t.Fatalf("expected p2 hooks to be registered")
	}
	route := testRoute(t, "https://download.eclipse.org/releases/2024-03")
	hook := &hookState{
		ctx:      &hooks.RequestContext{HubName: "eclipse"},
		def:      def,
		hasHooks: true,
		clean:    "/https/download.eclipse.org/technology/epp/content.jar",
	}

	target := resolveUpstreamURL(route, hook)
	if target.String() != "https://download.eclipse.org/technology/epp/content.jar" {
		t.Fatalf("unexpected upstream %s", target.String())
	}
}

func TestCachePolicyHookOverrides(t *testing.T) {
	route := testRoute(t, "https://up.example")
	hook := hooks.Hooks{
		CachePolicy: func(_ *hooks.RequestContext, _ string, current hooks.CachePolicy) hooks.CachePolicy {
			current.AllowCache = false
			current.RequireRevalidate = false
			return current
		},
	}
	ctx := &hooks.RequestContext{Method: fiber.MethodGet}
	policy := determineCachePolicyWithHook(route, "content.jar", fiber.MethodGet, hook, true, ctx)
	if policy.allowCache {
		t.Fatalf("expected hook to disable cache")
	}
	if policy.requireRevalidate {
		t.Fatalf("expected hook to disable revalidate")
	}
}

func TestP2CachePolicyOnlyRevalidatesMetadata(t *testing.T) {
	def, ok := hooks.Fetch("p2")
	if !ok {
		t.Fatalf("expected p2 hooks to be registered")
	}
	route := testRoute(t, "https://up.example")
	ctx := &hooks.RequestContext{Method: fiber.MethodGet}

	bundle := determineCachePolicyWithHook(route, "plugins/a_1.0.0.jar", fiber.MethodGet, def, true, ctx)
	if !bundle.allowCache || bundle.requireRevalidate {
		t.Fatalf("expected bundles to be cached without revalidation, got %+v", bundle)
	}
	metadata := determineCachePolicyWithHook(route, "artifacts.xml.xz", fiber.MethodGet, def, true, ctx)
	if !metadata.allowCache || !metadata.requireRevalidate {
		t.Fatalf("expected metadata to require revalidation, got %+v", metadata)
	}
}

func TestEtagMatches(t *testing.T) {
	if !etagMatches(`W/"abc", "def"`, `"def"`) {
		t.Fatalf("expected list match")
	}
	if !etagMatches(`W/"abc"`, `"abc"`) {
		t.Fatalf("expected weak match")
	}
	if etagMatches("", `"abc"`) || etagMatches(`"x"`, `"abc"`) {
		t.Fatalf("unexpected match")
	}
}
