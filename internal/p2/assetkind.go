package p2

import (
	"regexp"
	"strings"
)

// AssetKind 标识仓库内某个路径的语义角色，完全由路径形状推导，不单独持久化。
type AssetKind string

const (
	AssetKindIndex              AssetKind = "P2_INDEX"
	AssetKindComponentBundle    AssetKind = "BUNDLE"
	AssetKindCompositeArtifacts AssetKind = "COMPOSITE_ARTIFACTS"
	AssetKindCompositeContent   AssetKind = "COMPOSITE_CONTENT"
	AssetKindArtifactsMetadata  AssetKind = "ARTIFACTS_METADATA"
	AssetKindContentMetadata    AssetKind = "CONTENT_METADATA"
)

// CacheType 区分元数据与内容两类缓存，二者使用不同的 TTL 与再验证策略。
type CacheType string

const (
	CacheTypeMetadata CacheType = "metadata"
	CacheTypeContent  CacheType = "content"
)

func (k AssetKind) String() string {
	return string(k)
}

// CacheType 是 AssetKind 到缓存类别的纯映射：只有组件包属于 content。
func (k AssetKind) CacheType() CacheType {
	if k == AssetKindComponentBundle {
		return CacheTypeContent
	}
	return CacheTypeMetadata
}

// IsMetadata 报告该类资源是否需要经过元数据改写阶段。
func (k AssetKind) IsMetadata() bool {
	return k.CacheType() == CacheTypeMetadata
}

// IsComposite 报告是否为 compositeArtifacts/compositeContent 描述文件。
func (k AssetKind) IsComposite() bool {
	return k == AssetKindCompositeArtifacts || k == AssetKindCompositeContent
}

// classifierRules 的顺序即优先级，部分模式是其它模式的子串，不能随意调整。
var classifierRules = []struct {
	kind    AssetKind
	pattern *regexp.Regexp
}{
	{AssetKindIndex, regexp.MustCompile(`p2\.index$`)},
	{AssetKindComponentBundle, regexp.MustCompile(`(^|/)features/`)},
	{AssetKindComponentBundle, regexp.MustCompile(`(^|/)binary/`)},
	{AssetKindComponentBundle, regexp.MustCompile(`(^|/)plugins/`)},
	{AssetKindCompositeArtifacts, regexp.MustCompile(`(^|/)compositeArtifacts\.(jar|xml)$`)},
	{AssetKindCompositeContent, regexp.MustCompile(`(^|/)compositeContent\.(jar|xml)$`)},
	{AssetKindContentMetadata, regexp.MustCompile(`(^|/)content\.(jar|xml|xml\.xz)$`)},
	{AssetKindArtifactsMetadata, regexp.MustCompile(`(^|/)artifacts\.(jar|xml|xml\.xz)$`)},
}

// Classify 将仓库相对路径映射为 AssetKind，未命中任何模式时返回 *ClassificationError。
// 可选的 64 位十六进制内容寻址目录前缀不影响结果。
func Classify(path string) (AssetKind, error) {
	clean := StripContentAddress(path)
	for _, rule := range classifierRules {
		if rule.pattern.MatchString(clean) {
			return rule.kind, nil
		}
	}
	return "", &ClassificationError{Path: path}
}

// bundleFilePattern 约束 features/、plugins/ 下允许的文件形状，binary/ 不带扩展名。
var bundleFilePattern = regexp.MustCompile(`\.jar(\.pack\.gz)?$`)

// CheckRequestPath 在分类结果之上校验组件包的路径语法：
// features/ 与 plugins/ 只接受 .jar 与 .jar.pack.gz，其它扩展名按不可分类处理。
func CheckRequestPath(kind AssetKind, path string) error {
	if kind != AssetKindComponentBundle {
		return nil
	}
	clean := StripContentAddress(path)
	if strings.HasSuffix(clean, "/") {
		return &ClassificationError{Path: path}
	}
	if bundleSegment(clean) == "binary" {
		return nil
	}
	if !bundleFilePattern.MatchString(clean) {
		return &ClassificationError{Path: path}
	}
	return nil
}

// bundleSegment 返回决定分类的目录段（features/binary/plugins），与 Classify 的优先级一致。
func bundleSegment(clean string) string {
	for _, segment := range []string{"features", "binary", "plugins"} {
		if strings.HasPrefix(clean, segment+"/") || strings.Contains(clean, "/"+segment+"/") {
			return segment
		}
	}
	return ""
}
