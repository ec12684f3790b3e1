package p2

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/p2-hub/internal/blob"
)

type jarEntry struct {
	name string
	body string
}

func buildJar(t *testing.T, entries ...jarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func readJarEntry(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(body)
	}
	t.Fatalf("jar has no entry %s", name)
	return ""
}

func newTestFactory(t *testing.T) *blob.Factory {
	t.Helper()
	factory := blob.NewFactory(afero.NewMemMapFs(), "/tmp/p2-test")
	t.Cleanup(func() {
		require.Zero(t, factory.Live(), "temp blobs leaked")
	})
	return factory
}

func newBlob(t *testing.T, factory *blob.Factory, data []byte) *blob.TempBlob {
	t.Helper()
	tb, err := factory.Create(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	return tb
}

func readBlob(t *testing.T, tb *blob.TempBlob) []byte {
	t.Helper()
	f, err := tb.Open()
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}
