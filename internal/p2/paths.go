package p2

import (
	"path"
	"regexp"
	"strings"
)

var (
	contentAddressPrefix = regexp.MustCompile(`^[0-9a-fA-F]{64}/`)
	nameVersionPattern   = regexp.MustCompile(`^(.+)_(\d[^_]*)$`)
	escapedURIPattern    = regexp.MustCompile(`^(https?)/(.+)$`)
)

const (
	featureSuffix = ".feature"
	pluginSuffix  = ".plugin"
)

// StripContentAddress 去掉前导 "/" 以及可选的 64 位十六进制内容寻址目录。
func StripContentAddress(p string) string {
	clean := strings.TrimLeft(p, "/")
	return contentAddressPrefix.ReplaceAllString(clean, "")
}

// NormalizeComponentName 去掉 ";singleton:=true" 之类的限定段，再去掉 .feature/.plugin 后缀。
func NormalizeComponentName(name string) string {
	if idx := strings.Index(name, ";"); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, featureSuffix)
	name = strings.TrimSuffix(name, pluginSuffix)
	return name
}

// EscapeURIToPath 把 "scheme://host/x" 转成可以挂在本地仓库下的 "scheme/host/x"。
func EscapeURIToPath(uri string) string {
	return strings.Replace(uri, "://", "/", 1)
}

// UnescapePathToURI 是 EscapeURIToPath 的逆操作，仅识别 http/ 与 https/ 前缀。
func UnescapePathToURI(p string) (string, bool) {
	m := escapedURIPattern.FindStringSubmatch(strings.TrimLeft(p, "/"))
	if m == nil {
		return "", false
	}
	return m[1] + "://" + m[2], true
}

// ExtensionOf 返回 p2 关心的逻辑扩展名：pack.gz、xml.xz、jar、xml，其余取最后一段。
func ExtensionOf(p string) string {
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, ".pack.gz"):
		return "pack.gz"
	case strings.HasSuffix(base, ".xml.xz"):
		return "xml.xz"
	case strings.HasSuffix(base, ".jar"):
		return "jar"
	case strings.HasSuffix(base, ".xml"):
		return "xml"
	}
	if idx := strings.LastIndex(base, "."); idx >= 0 && idx < len(base)-1 {
		return base[idx+1:]
	}
	return ""
}

// SeedFromPath 从请求路径推导组件身份："<name>_<version>[.jar[.pack.gz]]"。
// 版本号取最后一个后面紧跟数字的 "_" 之后的部分，因此 x86_64 这样的名称片段不会被截断。
func SeedFromPath(p string) ComponentAttributes {
	clean := StripContentAddress(p)
	base := path.Base(clean)
	ext := ExtensionOf(clean)

	stem := base
	switch ext {
	case "pack.gz":
		stem = strings.TrimSuffix(strings.TrimSuffix(base, ".pack.gz"), ".jar")
	case "jar":
		stem = strings.TrimSuffix(base, ".jar")
	}

	attrs := ComponentAttributes{
		Path:      clean,
		Extension: ext,
	}
	if bundleSegment(clean) == "binary" {
		attrs.Extension = ""
	}
	if m := nameVersionPattern.FindStringSubmatch(stem); m != nil {
		attrs.ComponentName = NormalizeComponentName(m[1])
		attrs.ComponentVersion = m[2]
	} else {
		attrs.ComponentName = NormalizeComponentName(stem)
	}
	if bundleSegment(clean) == "binary" {
		attrs.PluginName = attrs.ComponentName
	}
	return attrs
}

// MetadataEntryName 返回 jar 形态元数据内部的 XML 条目名，例如 artifacts.jar → artifacts.xml。
func MetadataEntryName(p string) string {
	base := path.Base(p)
	for _, suffix := range []string{".xml.xz", ".jar", ".xml"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix) + ".xml"
		}
	}
	return base + ".xml"
}
