package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/p2-hub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallsBackWhenDirectoryUnavailable(t *testing.T) {
	dir := t.TempDir()
	// 父路径是普通文件，MkdirAll 必然失败（root 下同样成立）。
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("创建文件失败: %v", err)
	}

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocker, "sub", "p2-hub.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "verbose"}); err == nil {
		t.Fatalf("非法日志级别应返回错误")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2-hub.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestAssetFieldsOmitEmptyComponent(t *testing.T) {
	fields := AssetFields("P2_INDEX", "/p2.index", "", "")
	if fields["asset_kind"] != "P2_INDEX" || fields["asset_path"] != "/p2.index" {
		t.Fatalf("缺少资源字段: %v", fields)
	}
	if _, ok := fields["component_name"]; ok {
		t.Fatalf("空组件名不应输出")
	}

	fields = AssetFields("BUNDLE", "/plugins/a_1.0.0.jar", "a", "1.0.0")
	if fields["component_name"] != "a" || fields["component_version"] != "1.0.0" {
		t.Fatalf("组件字段不正确: %v", fields)
	}
}

func TestRequestFieldsOmitEmptyOptionalKeys(t *testing.T) {
	fields := Request{Hub: "eclipse", HubType: "p2", ModuleKey: "p2", CacheHit: true}.Fields()
	if fields["hub"] != "eclipse" || fields["cache_hit"] != true {
		t.Fatalf("缺少仓库字段: %v", fields)
	}
	if _, ok := fields["domain"]; ok {
		t.Fatalf("空 domain 不应输出")
	}
	if _, ok := fields["request_id"]; ok {
		t.Fatalf("空 request_id 不应输出")
	}

	merged := Merge(fields, AssetFields("BUNDLE", "plugins/a_1.0.0.jar", "", ""))
	if merged["asset_kind"] != "BUNDLE" || merged["hub"] != "eclipse" {
		t.Fatalf("合并字段不正确: %v", merged)
	}
}
