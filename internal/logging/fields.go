package logging

import "github.com/sirupsen/logrus"

// BaseFields 是 CLI 入口（启动、配置检查）使用的公共字段。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// Request 汇总一次代理请求的仓库维度字段。
type Request struct {
	Hub       string
	Domain    string
	HubType   string
	AuthMode  string
	ModuleKey string
	RequestID string
	CacheHit  bool
}

// Fields 转为 logrus 字段，空的 domain 与 request_id 不输出。
func (r Request) Fields() logrus.Fields {
	fields := logrus.Fields{
		"hub":        r.Hub,
		"hub_type":   r.HubType,
		"auth_mode":  r.AuthMode,
		"module_key": r.ModuleKey,
		"cache_hit":  r.CacheHit,
	}
	if r.Domain != "" {
		fields["domain"] = r.Domain
	}
	if r.RequestID != "" {
		fields["request_id"] = r.RequestID
	}
	return fields
}

// AssetFields 记录资源分类与组件身份，元数据改写和组件提取日志共用。
func AssetFields(kind, assetPath, componentName, componentVersion string) logrus.Fields {
	fields := logrus.Fields{
		"asset_kind": kind,
		"asset_path": assetPath,
	}
	if componentName != "" {
		fields["component_name"] = componentName
	}
	if componentVersion != "" {
		fields["component_version"] = componentVersion
	}
	return fields
}

// Merge 把 extra 合并进 base 并返回 base，同名键以 extra 为准。
func Merge(base logrus.Fields, extra logrus.Fields) logrus.Fields {
	if base == nil {
		base = make(logrus.Fields, len(extra))
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
