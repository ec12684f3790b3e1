package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/p2-hub/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("P2_HUB_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errBuf := useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errBuf.String(), "加载配置失败") {
		t.Fatalf("stderr 应说明配置加载失败，得到 %s", errBuf.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	outBuf, _ := useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(outBuf.String(), "p2-hub") {
		t.Fatalf("version 输出应包含 p2-hub 标识")
	}
}

func TestParseCLIFlagsShorthandAndDefault(t *testing.T) {
	t.Setenv("P2_HUB_CONFIG", "")

	opts, err := parseCLIFlags([]string{"-c", "/tmp/short.toml", "--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/short.toml" || !opts.checkOnly {
		t.Fatalf("短参数解析错误: %+v", opts)
	}

	opts, err = parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" {
		t.Fatalf("默认配置路径应为 config.toml，得到 %s", opts.configPath)
	}

	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestNewServiceServesDiagnostics(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
ListenPort = 5000

[[Hub]]
Name = "eclipse"
Domain = "p2.hub.local"
Upstream = "https://download.eclipse.org/releases/2024-03/"
`, filepath.ToSlash(filepath.Join(dir, "storage")))))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc, err := newService(cfg, logger)
	if err != nil {
		t.Fatalf("构建服务失败: %v", err)
	}
	t.Cleanup(svc.close)

	resp, err := svc.app.Test(httptest.NewRequest("GET", "http://localhost:5000/-/modules", nil))
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("期望 200，得到 %d", resp.StatusCode)
	}
	var payload struct {
		Hubs []struct {
			HubName string `json:"hub_name"`
			Path    string `json:"path"`
		} `json:"hubs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(payload.Hubs) != 1 || payload.Hubs[0].Path != "/repository/eclipse/" {
		t.Fatalf("仓库绑定不正确: %+v", payload.Hubs)
	}
}
