package content

import (
	"errors"
	"time"

	"github.com/any-hub/p2-hub/internal/blob"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("content record not found")

// Component 以 (repository, name, version) 唯一标识一个组件。
type Component struct {
	ID         int64
	Repository string
	Name       string
	Version    string
	Attributes map[string]string
	CreatedAt  time.Time
}

// ComponentSummary 是诊断接口使用的组件列表项。
type ComponentSummary struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	PluginName string `json:"plugin_name,omitempty"`
	Assets     int    `json:"assets"`
}

// CacheInfo 记录资源最近一次与上游确认的时间及其有效期，只由代理编排写入。
type CacheInfo struct {
	LastVerified time.Time
	ExpiresAt    time.Time
}

// Fresh 报告在 now 时刻缓存是否仍然有效。
func (c CacheInfo) Fresh(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.Before(c.ExpiresAt)
}

// Asset 以 (repository, path) 唯一标识一个资源，可选关联组件。
type Asset struct {
	ID          int64
	Repository  string
	Path        string
	ComponentID int64
	Kind        string
	Attributes  map[string]string

	ContentType      string
	Size             int64
	Digest           string
	UpstreamETag     string
	UpstreamModified time.Time

	LastDownloaded time.Time
	CacheInfo      CacheInfo
	CreatedAt      time.Time
}

// HasBlob 报告资源是否已经关联正文。
func (a *Asset) HasBlob() bool {
	return a != nil && a.Digest != ""
}

// AssetAttributes 是创建资源时写入的描述信息。
type AssetAttributes struct {
	Kind   string
	Format map[string]string
}

// BlobMeta 随正文一起保存的响应元数据，用于后续条件再验证。
type BlobMeta struct {
	ContentType      string
	UpstreamETag     string
	UpstreamModified time.Time
}

// ComponentKey 标识一次写入要关联的组件。
type ComponentKey struct {
	Name       string
	Version    string
	Attributes map[string]string
}

// AssetWrite 是 SaveAsset 的输入。Component 为 nil 时不创建组件，已有关联保持不变。
type AssetWrite struct {
	Repository string
	Path       string
	Attributes AssetAttributes
	Component  *ComponentKey
	Blob       *blob.TempBlob
	Meta       BlobMeta
	CacheInfo  CacheInfo
}
