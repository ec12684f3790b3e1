package proxy

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/p2-hub/internal/config"
	"github.com/any-hub/p2-hub/internal/server"
)

const requestIDKey = "_anyhub_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	route := testRouteWithModule("missing-module")

	if err := forwarder.Handle(ctx, route); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "module_handler_missing") {
		t.Fatalf("expected error body to mention module_handler_missing, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "missing-req") {
		t.Fatalf("expected log to include request id, got %s", logBuf.String())
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	const moduleKey = "panic-module"
	moduleHandlers.Delete(normalizeModuleKey(moduleKey))
	defer moduleHandlers.Delete(normalizeModuleKey(moduleKey))

	MustRegisterModule(ModuleRegistration{
		Key: moduleKey,
		Handler: server.ProxyHandlerFunc(func(fiber.Ctx, *server.HubRoute) error {
			panic("boom")
		}),
	})

	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	if err := forwarder.Handle(ctx, testRouteWithModule(moduleKey)); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "module_handler_panic") {
		t.Fatalf("expected error body to mention module_handler_panic, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "panic: boom") {
		t.Fatalf("expected log to carry panic value, got %s", logBuf.String())
	}
}

func TestForwarderFallsBackToDefaultHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	called := false
	forwarder := NewForwarder(server.ProxyHandlerFunc(func(c fiber.Ctx, route *server.HubRoute) error {
		called = true
		return c.SendStatus(fiber.StatusNoContent)
	}), logrus.New())

	if err := forwarder.Handle(ctx, testRouteWithModule("p2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected default handler to be invoked")
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusNoContent {
		t.Fatalf("expected 204 from default handler, got %d", status)
	}
}

func TestRegisterModuleRejectsDuplicates(t *testing.T) {
	const moduleKey = "dup-module"
	moduleHandlers.Delete(moduleKey)
	defer moduleHandlers.Delete(moduleKey)

	handler := server.ProxyHandlerFunc(func(fiber.Ctx, *server.HubRoute) error { return nil })
	if err := RegisterModule(ModuleRegistration{Key: " DUP-Module ", Handler: handler}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	err := RegisterModule(ModuleRegistration{Key: moduleKey, Handler: handler})
	if !errors.Is(err, ErrModuleHandlerExists) {
		t.Fatalf("expected ErrModuleHandlerExists, got %v", err)
	}
	if err := RegisterModule(ModuleRegistration{Key: " ", Handler: handler}); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	if err := RegisterModule(ModuleRegistration{Key: "other"}); err == nil {
		t.Fatalf("expected nil handler to be rejected")
	}
}

func testRouteWithModule(moduleKey string) *server.HubRoute {
	return &server.HubRoute{
		Config: config.HubConfig{
			Name:   "test",
			Domain: "test.local",
			Type:   "p2",
		},
		ModuleKey: moduleKey,
	}
}
