package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/any-hub/p2-hub/internal/hubmodule"
)

// hubNamePattern 约束 Hub 名称：它同时出现在 /repository/{name}/ 路径与存储目录中。
var hubNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// globalRules 按顺序检查 Global 段，返回第一条不满足的规则。
var globalRules = []struct {
	field  string
	reason string
	ok     func(GlobalConfig) bool
}{
	{"Global.ListenPort", "必须在 1-65535", func(g GlobalConfig) bool { return g.ListenPort > 0 && g.ListenPort <= 65535 }},
	{"Global.StoragePath", "不能为空", func(g GlobalConfig) bool { return strings.TrimSpace(g.StoragePath) != "" }},
	{"Global.CacheTTL", "必须大于 0", func(g GlobalConfig) bool { return g.CacheTTL.DurationValue() > 0 }},
	{"Global.MetadataTTL", "必须大于 0", func(g GlobalConfig) bool { return g.MetadataTTL.DurationValue() > 0 }},
	{"Global.CompositeMaxDepth", "必须大于 0", func(g GlobalConfig) bool { return g.CompositeMaxDepth >= 1 }},
	{"Global.MaxRetries", "不能为负数", func(g GlobalConfig) bool { return g.MaxRetries >= 0 }},
	{"Global.InitialBackoff", "必须大于 0", func(g GlobalConfig) bool { return g.InitialBackoff.DurationValue() > 0 }},
	{"Global.UpstreamTimeout", "必须大于 0", func(g GlobalConfig) bool { return g.UpstreamTimeout.DurationValue() > 0 }},
}

// Validate 做语义校验，并把 Hub 的 Type 与 ValidationMode 规范为小写。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: 配置为空", ErrInvalidConfig)
	}
	for _, rule := range globalRules {
		if !rule.ok(c.Global) {
			return newFieldError(rule.field, rule.reason)
		}
	}
	if len(c.Hubs) == 0 {
		return fmt.Errorf("%w: 至少需要配置一个 Hub", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Hubs))
	for i := range c.Hubs {
		hub := &c.Hubs[i]
		if err := hub.validate(); err != nil {
			return err
		}
		if _, dup := seen[hub.Name]; dup {
			return newFieldError(hubField(hub.Name, "Name"), "重复")
		}
		seen[hub.Name] = struct{}{}
	}
	return nil
}

func (h *HubConfig) validate() error {
	if h.Name == "" {
		return newFieldError("Hub[].Name", "不能为空")
	}
	if !hubNamePattern.MatchString(h.Name) {
		return newFieldError(hubField(h.Name, "Name"), "仅允许字母、数字、'.'、'_'、'-'")
	}
	// Domain 可选：未配置时仅能通过 /repository/{name}/ 路径访问。
	if h.Domain != "" {
		if err := validateDomain(h.Domain); err != nil {
			return wrapFieldError(hubField(h.Name, "Domain"), err)
		}
	}

	hubType := strings.ToLower(strings.TrimSpace(h.Type))
	if hubType == "" {
		return newFieldError(hubField(h.Name, "Type"), "不能为空")
	}
	if _, ok := hubmodule.Resolve(hubType); !ok {
		return newFieldError(hubField(h.Name, "Type"), fmt.Sprintf("未注册模块: %s（可用: %s）", hubType, strings.Join(hubmodule.Keys(), ", ")))
	}
	h.Type = hubType

	if h.ValidationMode != "" {
		mode := hubmodule.ValidationMode(strings.ToLower(strings.TrimSpace(h.ValidationMode)))
		switch mode {
		case hubmodule.ValidationModeETag, hubmodule.ValidationModeLastModified, hubmodule.ValidationModeNever:
			h.ValidationMode = string(mode)
		default:
			return newFieldError(hubField(h.Name, "ValidationMode"), "仅支持 etag/last-modified/never")
		}
	}

	if (h.Username == "") != (h.Password == "") {
		return newFieldError(hubField(h.Name, "Username/Password"), "必须同时提供或同时留空")
	}
	if err := validateUpstream(h.Upstream); err != nil {
		return wrapFieldError(hubField(h.Name, "Upstream"), err)
	}
	if h.Proxy != "" {
		if err := validateUpstream(h.Proxy); err != nil {
			return wrapFieldError(hubField(h.Name, "Proxy"), err)
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// EffectiveCacheTTL 返回特定 Hub 组件包生效的 TTL，未覆盖时回退至全局值。
func (c *Config) EffectiveCacheTTL(h HubConfig) time.Duration {
	if h.CacheTTL.DurationValue() > 0 {
		return h.CacheTTL.DurationValue()
	}
	return c.Global.CacheTTL.DurationValue()
}

// EffectiveMetadataTTL 返回特定 Hub 元数据生效的 TTL，未覆盖时回退至全局值。
func (c *Config) EffectiveMetadataTTL(h HubConfig) time.Duration {
	if h.MetadataTTL.DurationValue() > 0 {
		return h.MetadataTTL.DurationValue()
	}
	return c.Global.MetadataTTL.DurationValue()
}
