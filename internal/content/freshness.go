package content

import (
	"time"

	"github.com/any-hub/p2-hub/internal/hubmodule"
	"github.com/any-hub/p2-hub/internal/p2"
)

// FreshnessPolicy 按缓存类别给出资源的有效期。
type FreshnessPolicy struct {
	ContentTTL  time.Duration
	MetadataTTL time.Duration
}

// PolicyFromStrategy 由 hub 最终生效的缓存策略构造有效期。
func PolicyFromStrategy(profile hubmodule.CacheStrategyProfile) FreshnessPolicy {
	return FreshnessPolicy{
		ContentTTL:  profile.TTLHint,
		MetadataTTL: profile.MetadataTTLHint,
	}
}

// TTL 返回指定缓存类别的有效期，未知类别按元数据处理。
func (p FreshnessPolicy) TTL(cacheType p2.CacheType) time.Duration {
	if cacheType == p2.CacheTypeContent {
		return p.ContentTTL
	}
	return p.MetadataTTL
}

// Verified 返回 now 时刻确认有效后的 CacheInfo。
func (p FreshnessPolicy) Verified(cacheType p2.CacheType, now time.Time) CacheInfo {
	return CacheInfo{LastVerified: now, ExpiresAt: now.Add(p.TTL(cacheType))}
}
