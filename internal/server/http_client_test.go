package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/p2-hub/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("response header timeout should follow config, got %s", transport.ResponseHeaderTimeout)
	}
}

func TestNewUpstreamClientDefaultsAndIsolation(t *testing.T) {
	first := NewUpstreamClient(nil)
	if first.Timeout != defaultUpstreamTimeout {
		t.Fatalf("expected default timeout, got %s", first.Timeout)
	}
	second := NewUpstreamClient(&config.Config{})
	if first.Transport == second.Transport {
		t.Fatalf("each client should own its transport")
	}
	if second.Timeout != defaultUpstreamTimeout {
		t.Fatalf("zero UpstreamTimeout should fall back to default, got %s", second.Timeout)
	}
}
