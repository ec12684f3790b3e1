package hubmodule

import "time"

// StrategyOptions 是 Hub 级覆盖项，零值表示沿用模块默认。
type StrategyOptions struct {
	TTLOverride         time.Duration
	MetadataTTLOverride time.Duration
	ValidationOverride  ValidationMode
}

// ResolveStrategy 返回模块默认策略叠加 Hub 覆盖后的结果。
func ResolveStrategy(meta ModuleMetadata, opts StrategyOptions) CacheStrategyProfile {
	s := meta.CacheStrategy
	s.TTLHint = overrideDuration(s.TTLHint, opts.TTLOverride)
	s.MetadataTTLHint = overrideDuration(s.MetadataTTLHint, opts.MetadataTTLOverride)
	if opts.ValidationOverride != "" {
		s.ValidationMode = opts.ValidationOverride
	}
	return normalizeStrategy(s)
}

func overrideDuration(base, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return base
}

// normalizeStrategy 负 TTL 归零；p2 仓库按摘要落盘，未声明布局时使用 content_addressed。
func normalizeStrategy(s CacheStrategyProfile) CacheStrategyProfile {
	s.TTLHint = max(s.TTLHint, 0)
	s.MetadataTTLHint = max(s.MetadataTTLHint, 0)
	if s.ValidationMode == "" {
		s.ValidationMode = ValidationModeETag
	}
	if s.DiskLayout == "" {
		s.DiskLayout = "content_addressed"
	}
	return s
}
