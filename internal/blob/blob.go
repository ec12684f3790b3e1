package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// ErrReleased 表示句柄已被释放后仍被访问。
var ErrReleased = errors.New("temp blob already released")

// Factory 在指定目录下创建临时 blob，并统计尚未释放的句柄数量。
type Factory struct {
	fs   afero.Fs
	dir  string
	live atomic.Int64
}

// NewFactory 使用 fs/dir 作为临时文件位置；dir 为空时使用 fs 的系统临时目录。
func NewFactory(fs afero.Fs, dir string) *Factory {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Factory{fs: fs, dir: dir}
}

// Live 返回尚未释放的句柄数，测试中用于检查泄漏。
func (f *Factory) Live() int64 {
	return f.live.Load()
}

// Create 把 r 的全部内容写入新的临时 blob。
func (f *Factory) Create(ctx context.Context, r io.Reader) (*TempBlob, error) {
	return f.CreateWith(ctx, func(w io.Writer) error {
		_, err := io.Copy(w, &contextReader{ctx: ctx, r: r})
		return err
	})
}

// CreateWith 由 fill 负责写入内容。fill 出错或 ctx 取消时删除临时文件，不返回半成品。
func (f *Factory) CreateWith(ctx context.Context, fill func(io.Writer) error) (*TempBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.dir != "" {
		if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}
	file, err := afero.TempFile(f.fs, f.dir, "p2-blob-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	name := file.Name()

	hasher := blake3.New()
	counter := &countingWriter{}
	err = fill(io.MultiWriter(file, hasher, counter))
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = f.fs.Remove(name)
		return nil, err
	}

	tb := &TempBlob{
		factory: f,
		name:    name,
		size:    counter.n,
		digest:  hex.EncodeToString(hasher.Sum(nil)),
	}
	tb.refs.Store(1)
	f.live.Add(1)
	return tb, nil
}

// TempBlob 是一次请求内流转的临时内容。持有者通过 Release 交还所有权，
// 需要跨阶段共享时先 Retain。
type TempBlob struct {
	factory *Factory
	name    string
	size    int64
	digest  string
	refs    atomic.Int32
}

// Open 返回一个新的只读句柄，每次调用互不影响。
func (b *TempBlob) Open() (afero.File, error) {
	if b.refs.Load() <= 0 {
		return nil, ErrReleased
	}
	return b.factory.fs.Open(b.name)
}

func (b *TempBlob) Size() int64 {
	return b.size
}

// Digest 返回内容的 BLAKE3 十六进制摘要。
func (b *TempBlob) Digest() string {
	return b.digest
}

// Retain 增加一个引用，返回自身便于链式传递。
func (b *TempBlob) Retain() *TempBlob {
	b.refs.Add(1)
	return b
}

// Release 释放一个引用，最后一个引用释放时删除底层文件。对 nil 安全。
func (b *TempBlob) Release() error {
	if b == nil {
		return nil
	}
	remaining := b.refs.Add(-1)
	switch {
	case remaining > 0:
		return nil
	case remaining < 0:
		b.refs.Store(0)
		return ErrReleased
	}
	b.factory.live.Add(-1)
	if err := b.factory.fs.Remove(b.name); err != nil {
		return fmt.Errorf("remove temp blob: %w", err)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
