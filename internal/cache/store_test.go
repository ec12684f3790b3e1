package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("payload")
	locator := Locator{Repository: "eclipse", Digest: digestOf(payload)}

	modTime := time.Now().Add(-time.Hour).UTC()
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
	want := filepath.Join("eclipse", "blobs", locator.Digest[:2], locator.Digest)
	if !bytes.HasSuffix([]byte(result.Entry.FilePath), []byte(want)) {
		t.Fatalf("unexpected blob layout: %s", result.Entry.FilePath)
	}
}

func TestStorePutRejectsDigestMismatch(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Repository: "eclipse", Digest: digestOf([]byte("expected"))}

	_, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("tampered")), PutOptions{})
	if !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
	if _, err := store.Get(context.Background(), locator); err != ErrNotFound {
		t.Fatalf("mismatched blob must not be visible, got %v", err)
	}
	fs := store.(*fileStore)
	entries, _ := afero.ReadDir(fs.fs, filepath.Join(fs.basePath, "eclipse", "blobs", locator.Digest[:2]))
	if len(entries) != 0 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}

func TestStorePutReusesExistingBlob(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("shared")
	locator := Locator{Repository: "eclipse", Digest: digestOf(payload)}

	first, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	second, err := store.Put(context.Background(), locator, bytes.NewReader(nil), PutOptions{})
	if err != nil {
		t.Fatalf("second put error: %v", err)
	}
	if second.SizeBytes != first.SizeBytes {
		t.Fatalf("expected existing blob to be reused, got size %d", second.SizeBytes)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Repository: "eclipse", Digest: digestOf([]byte("missing"))})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("data")
	locator := Locator{Repository: "eclipse", Digest: digestOf(payload)}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
}

func TestStoreRejectsInvalidLocator(t *testing.T) {
	store := newTestStore(t)
	cases := []Locator{
		{Repository: "", Digest: digestOf([]byte("x"))},
		{Repository: "../etc", Digest: digestOf([]byte("x"))},
		{Repository: "eclipse", Digest: "../../passwd"},
	}
	for _, locator := range cases {
		if _, err := store.Get(context.Background(), locator); err == nil || err == ErrNotFound {
			t.Fatalf("expected validation error for %+v, got %v", locator, err)
		}
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Repository: "eclipse", Digest: digestOf([]byte("dir"))}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := fs.fs.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreOnMemoryFs(t *testing.T) {
	store, err := NewStoreFs(afero.NewMemMapFs(), "/cache")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	payload := []byte("<repository name='mem'/>")
	locator := Locator{Repository: "orbit", Digest: digestOf(payload)}
	entry, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()
	if _, err := result.Reader.Seek(6, io.SeekStart); err != nil {
		t.Fatalf("seek error: %v", err)
	}
	rest, _ := io.ReadAll(result.Reader)
	if string(rest) != string(payload[6:]) {
		t.Fatalf("unexpected body after seek: %s", rest)
	}
}

func TestStorePutStopsOnCanceledContext(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("late")
	locator := Locator{Repository: "eclipse", Digest: digestOf(payload)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, locator, bytes.NewReader(payload), PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := store.Get(context.Background(), locator); err != ErrNotFound {
		t.Fatalf("canceled write must not be visible, got %v", err)
	}
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
