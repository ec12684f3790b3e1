// Package version 暴露构建版本，发布时通过
// -ldflags "-X github.com/any-hub/p2-hub/internal/version.Version=... -X ...Commit=..." 注入。
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 "p2-hub <version> (<commit>)"。未注入 Commit 时尝试读取 go build 记录的 vcs.revision。
func Full() string {
	return fmt.Sprintf("p2-hub %s (%s)", Version, revision())
}

// UserAgent 是访问上游 p2 仓库时使用的 User-Agent。
func UserAgent() string {
	return "p2-hub/" + Version
}

func revision() string {
	if Commit != "dev" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
			return setting.Value[:12]
		}
	}
	return Commit
}
