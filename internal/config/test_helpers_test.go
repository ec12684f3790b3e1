package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testConfigPath 指向 testdata 下的固定配置。
func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少测试配置 %s: %v", name, err)
	}
	return path
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 返回一份能通过 Validate 的单 Hub 配置，测试按需改写字段。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:        5000,
			StoragePath:       "./data",
			CacheTTL:          Duration(time.Hour),
			MetadataTTL:       Duration(10 * time.Minute),
			MaxRetries:        1,
			InitialBackoff:    Duration(time.Second),
			UpstreamTimeout:   Duration(time.Second),
			CompositeMaxDepth: 4,
		},
		Hubs: []HubConfig{{
			Name:     "eclipse",
			Domain:   "p2.local",
			Type:     "p2",
			Upstream: "https://download.eclipse.org/releases/2023-06/",
		}},
	}
}
