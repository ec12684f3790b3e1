package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理 blob 文件的读写。磁盘布局遵循：
//
//	<StoragePath>/<Repository>/blobs/<digest 前两位>/<digest>
//
// 相同内容在同一仓库内只保存一份，记录层负责引用计数。
type Store interface {
	// Get 返回一个可流式读取的 blob。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将内容写入 blob 文件。实现需通过临时文件 + rename 保证写入原子性，
	// 写入过程中重新计算摘要，与 locator.Digest 不一致时返回 ErrDigestMismatch。
	// 目标已存在时直接复用。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除 blob 文件，不存在时视为成功。
	Remove(ctx context.Context, locator Locator) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个 blob（仓库 + 内容摘要）。
type Locator struct {
	Repository string
	Digest     string
}

// Entry 描述一个已落盘的 blob。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示 blob 不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrDigestMismatch 表示写入内容与声明的摘要不一致。
	ErrDigestMismatch = errors.New("blob digest mismatch")
)
