package p2

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"

	"github.com/any-hub/p2-hub/internal/blob"
)

// Encoding 是元数据文件的物理编码，改写结果沿用输入编码。
type Encoding string

const (
	EncodingXML Encoding = "xml"
	EncodingXZ  Encoding = "xml.xz"
	EncodingJar Encoding = "jar"
)

// EncodingOf 根据文件名推导编码。
func EncodingOf(p string) (Encoding, error) {
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, ".xml.xz"):
		return EncodingXZ, nil
	case strings.HasSuffix(base, ".jar"):
		return EncodingJar, nil
	case strings.HasSuffix(base, ".xml"):
		return EncodingXML, nil
	}
	return "", fmt.Errorf("no metadata encoding for %q", base)
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openXML 返回解码后的 XML 流。jar 形态优先读取 entryName，找不到时取第一个 .xml 条目。
func openXML(in *blob.TempBlob, enc Encoding, entryName string) (io.ReadCloser, error) {
	f, err := in.Open()
	if err != nil {
		return nil, err
	}

	switch enc {
	case EncodingXML:
		return f, nil
	case EncodingXZ:
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		return &multiCloser{Reader: xr, closers: []io.Closer{f}}, nil
	case EncodingJar:
		zr, err := zip.NewReader(f, in.Size())
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open jar: %w", err)
		}
		entry := findXMLEntry(zr, entryName)
		if entry == nil {
			f.Close()
			return nil, fmt.Errorf("jar has no %s entry", entryName)
		}
		rc, err := entry.Open()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open jar entry %s: %w", entry.Name, err)
		}
		return &multiCloser{Reader: rc, closers: []io.Closer{f, rc}}, nil
	}
	f.Close()
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}

func findXMLEntry(zr *zip.Reader, entryName string) *zip.File {
	var fallback *zip.File
	for _, f := range zr.File {
		if f.Name == entryName {
			return f
		}
		if fallback == nil && strings.HasSuffix(f.Name, ".xml") && !strings.Contains(f.Name, "/") {
			fallback = f
		}
	}
	return fallback
}

// encodeXML 把 write 产生的 XML 按 enc 包装后写入 w。
func encodeXML(w io.Writer, enc Encoding, entryName string, write func(io.Writer) error) error {
	switch enc {
	case EncodingXML:
		return write(w)
	case EncodingXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return err
		}
		if err := write(xw); err != nil {
			xw.Close()
			return err
		}
		return xw.Close()
	case EncodingJar:
		zw := zip.NewWriter(w)
		ew, err := zw.Create(entryName)
		if err != nil {
			zw.Close()
			return err
		}
		if err := write(ew); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	return fmt.Errorf("unsupported encoding %q", enc)
}
