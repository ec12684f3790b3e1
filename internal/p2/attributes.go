package p2

// ComponentAttributes 描述一个组件包的身份信息，构建后按值传递，不再修改。
type ComponentAttributes struct {
	ComponentName    string
	ComponentVersion string
	PluginName       string
	Path             string
	Extension        string
}

// Merge 以提取结果为准，seed 只补齐提取器未能填充的字段。
func (seed ComponentAttributes) Merge(extracted ComponentAttributes) ComponentAttributes {
	merged := extracted
	if merged.ComponentName == "" {
		merged.ComponentName = seed.ComponentName
	}
	if merged.ComponentVersion == "" {
		merged.ComponentVersion = seed.ComponentVersion
	}
	if merged.PluginName == "" {
		merged.PluginName = seed.PluginName
	}
	if merged.Path == "" {
		merged.Path = seed.Path
	}
	if merged.Extension == "" {
		merged.Extension = seed.Extension
	}
	return merged
}

// HasIdentity 报告是否足以作为组件键 (name, version)。
func (a ComponentAttributes) HasIdentity() bool {
	return a.ComponentName != "" && a.ComponentVersion != ""
}

// Map 输出写入资产/组件格式属性时使用的键值对，空值省略。
func (a ComponentAttributes) Map() map[string]string {
	out := make(map[string]string, 5)
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("name", a.ComponentName)
	set("version", a.ComponentVersion)
	set("pluginName", a.PluginName)
	set("path", a.Path)
	set("extension", a.Extension)
	return out
}
