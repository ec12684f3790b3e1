package hubmodule

import "time"

// MigrationState 描述模块上线阶段，方便观测端区分 beta/ga。
type MigrationState string

const (
	MigrationStateBeta MigrationState = "beta"
	MigrationStateGA   MigrationState = "ga"
)

// ValidationMode 描述缓存再验证的默认策略。
type ValidationMode string

const (
	ValidationModeETag         ValidationMode = "etag"
	ValidationModeLastModified ValidationMode = "last-modified"
	ValidationModeNever        ValidationMode = "never"
)

// CacheStrategyProfile 描述模块的缓存读写策略及其默认值。
// TTLHint 作用于内容类资源（组件包），MetadataTTLHint 作用于索引与元数据。
type CacheStrategyProfile struct {
	TTLHint         time.Duration
	MetadataTTLHint time.Duration
	ValidationMode  ValidationMode
	DiskLayout      string
}

// ModuleMetadata 记录一个模块的静态信息，供配置校验和诊断端使用。
type ModuleMetadata struct {
	Key                string
	Description        string
	MigrationState     MigrationState
	SupportedProtocols []string
	CacheStrategy      CacheStrategyProfile
}

// DefaultModuleKey 返回内置 p2 模块的键值。
func DefaultModuleKey() string {
	return defaultModuleKey
}
