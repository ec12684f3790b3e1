package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// NewStore 在本地磁盘 basePath 下创建 blob 存储。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	return NewStoreFs(afero.NewOsFs(), abs)
}

// NewStoreFs 允许替换底层文件系统，测试中可传入 afero.NewMemMapFs()。
func NewStoreFs(fsys afero.Fs, basePath string) (Store, error) {
	if fsys == nil {
		return nil, errors.New("filesystem required")
	}
	if err := fsys.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &fileStore{fs: fsys, basePath: basePath}, nil
}

// fileStore 以摘要前缀把写入/删除分散到 256 把锁上，同一 blob 的 Put 与 Remove 互斥。
type fileStore struct {
	fs       afero.Fs
	basePath string
	stripes  [256]sync.Mutex
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		_ = f.Close()
		if err == nil {
			err = ErrNotFound
		}
		return nil, err
	}
	return &ReadResult{
		Entry:  Entry{Locator: locator, FilePath: name, SizeBytes: info.Size(), ModTime: info.ModTime()},
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	name, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(locator)
	defer unlock()

	if info, err := s.fs.Stat(name); err == nil && !info.IsDir() {
		return &Entry{Locator: locator, FilePath: name, SizeBytes: info.Size(), ModTime: info.ModTime()}, nil
	}

	dir := filepath.Dir(name)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	size, tmpName, err := s.writeVerified(ctx, dir, locator.Digest, body)
	if err != nil {
		return nil, err
	}
	if err := s.fs.Rename(tmpName, name); err != nil {
		_ = s.fs.Remove(tmpName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := s.fs.Chtimes(name, modTime, modTime); err != nil {
		return nil, err
	}
	return &Entry{Locator: locator, FilePath: name, SizeBytes: size, ModTime: modTime}, nil
}

// writeVerified 把 body 写入 dir 下的临时文件并校验 BLAKE3 摘要，失败时不留下临时文件。
func (s *fileStore) writeVerified(ctx context.Context, dir, digest string, body io.Reader) (int64, string, error) {
	tmp, err := afero.TempFile(s.fs, dir, ".blob-*")
	if err != nil {
		return 0, "", err
	}
	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), contextReader{ctx: ctx, r: body})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != digest {
			err = fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, digest, got)
		}
	}
	if err != nil {
		_ = s.fs.Remove(tmp.Name())
		return 0, "", err
	}
	return size, tmp.Name(), nil
}

func (s *fileStore) Remove(_ context.Context, locator Locator) error {
	name, err := s.entryPath(locator)
	if err != nil {
		return err
	}
	unlock := s.lock(locator)
	defer unlock()

	if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// lock 只能在 entryPath 校验通过后调用，此时 Digest 一定是 64 位十六进制。
func (s *fileStore) lock(locator Locator) func() {
	idx, _ := strconv.ParseUint(locator.Digest[:2], 16, 8)
	m := &s.stripes[idx]
	m.Lock()
	return m.Unlock
}

// entryPath 返回 <base>/<repo>/blobs/<aa>/<digest>。仓库名不能含路径分隔符。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	repo := strings.TrimSpace(locator.Repository)
	switch {
	case repo == "":
		return "", errors.New("repository name required")
	case repo == "." || repo == ".." || strings.ContainsAny(repo, `/\`):
		return "", fmt.Errorf("invalid repository name %q", repo)
	case !digestPattern.MatchString(locator.Digest):
		return "", fmt.Errorf("invalid blob digest %q", locator.Digest)
	}
	return filepath.Join(s.basePath, repo, "blobs", locator.Digest[:2], locator.Digest), nil
}

// contextReader 在每次 Read 前检查 ctx，客户端断开后尽快停止写入。
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
