package hubmodule

import (
	"errors"
	"testing"
	"time"
)

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(ModuleMetadata{Key: "beta", MigrationState: MigrationStateBeta}); err != nil {
		t.Fatalf("register beta failed: %v", err)
	}
	if err := Register(ModuleMetadata{Key: "gamma", MigrationState: MigrationStateGA}); err != nil {
		t.Fatalf("register gamma failed: %v", err)
	}

	if _, ok := Resolve("beta"); !ok {
		t.Fatalf("expected beta to resolve")
	}
	if _, ok := Resolve("BETA"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}

	list := List()
	if len(list) != 2 {
		t.Fatalf("list length mismatch: %d", len(list))
	}
	if list[0].Key != "beta" || list[1].Key != "gamma" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(ModuleMetadata{Key: "p2"}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(ModuleMetadata{Key: " P2 "}); !errors.Is(err, ErrModuleExists) {
		t.Fatalf("duplicate registration should fail with ErrModuleExists, got %v", err)
	}
	if err := Register(ModuleMetadata{Key: "  "}); !errors.Is(err, ErrModuleKeyRequired) {
		t.Fatalf("blank key should be rejected, got %v", err)
	}
}

func TestRegisterFillsStrategyDefaults(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(ModuleMetadata{Key: "P2"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	meta, ok := Resolve("p2")
	if !ok {
		t.Fatalf("expected p2 to resolve")
	}
	if meta.Key != "p2" || meta.MigrationState != MigrationStateBeta {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if meta.CacheStrategy.ValidationMode != ValidationModeETag || meta.CacheStrategy.DiskLayout != "content_addressed" {
		t.Fatalf("strategy defaults not applied: %+v", meta.CacheStrategy)
	}
	if keys := Keys(); len(keys) != 1 || keys[0] != "p2" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestResolveStrategyAppliesOverrides(t *testing.T) {
	meta := ModuleMetadata{
		Key: "p2",
		CacheStrategy: CacheStrategyProfile{
			TTLHint:         24 * time.Hour,
			MetadataTTLHint: time.Hour,
		},
	}

	strategy := ResolveStrategy(meta, StrategyOptions{
		MetadataTTLOverride: 5 * time.Minute,
		ValidationOverride:  ValidationModeLastModified,
	})
	if strategy.TTLHint != 24*time.Hour {
		t.Fatalf("content ttl should keep module default, got %s", strategy.TTLHint)
	}
	if strategy.MetadataTTLHint != 5*time.Minute {
		t.Fatalf("metadata ttl override not applied, got %s", strategy.MetadataTTLHint)
	}
	if strategy.ValidationMode != ValidationModeLastModified {
		t.Fatalf("validation override not applied, got %s", strategy.ValidationMode)
	}
	if strategy.DiskLayout != "content_addressed" {
		t.Fatalf("unexpected disk layout %s", strategy.DiskLayout)
	}
}

func TestResolveStrategyDefaults(t *testing.T) {
	strategy := ResolveStrategy(ModuleMetadata{Key: "p2"}, StrategyOptions{})
	if strategy.ValidationMode != ValidationModeETag {
		t.Fatalf("expected etag validation by default, got %s", strategy.ValidationMode)
	}
}
