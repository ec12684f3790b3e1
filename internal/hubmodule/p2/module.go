// Package p2 描述 Eclipse p2 更新站点模块的默认策略与注册逻辑。
package p2

import (
	"time"

	"github.com/any-hub/p2-hub/internal/hubmodule"
)

const (
	// 组件包按 name_version 发布后不再变化，可以长期缓存。
	bundleDefaultTTL = 7 * 24 * time.Hour
	// 元数据随仓库发布更新，默认一小时后再验证。
	metadataDefaultTTL = time.Hour
)

func init() {
	hubmodule.MustRegister(hubmodule.ModuleMetadata{
		Key:            hubmodule.DefaultModuleKey(),
		Description:    "Eclipse p2 update site proxy with mirror stripping and composite flattening",
		MigrationState: hubmodule.MigrationStateGA,
		SupportedProtocols: []string{
			"p2",
		},
		CacheStrategy: hubmodule.CacheStrategyProfile{
			TTLHint:         bundleDefaultTTL,
			MetadataTTLHint: metadataDefaultTTL,
			ValidationMode:  hubmodule.ValidationModeETag,
			DiskLayout:      "content_addressed",
		},
	})
}
