package p2

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/magiconair/properties"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/p2-hub/internal/blob"
)

const (
	featureEntry           = "feature.xml"
	featurePropertiesEntry = "feature.properties"

	// maxEntryBytes 限制 feature.xml / manifest / properties 的读取量。
	maxEntryBytes = 8 << 20
	// maxInflatedPack 限制 pack.gz 解压后的体积。
	maxInflatedPack = 512 << 20
)

var (
	zipMagic     = []byte("PK\x03\x04")
	pack200Magic = []byte{0xCA, 0xFE, 0xD0, 0x0D}
)

// Extractor 从组件包（jar 或 jar.pack.gz）中读取组件身份。无状态，可并发复用。
type Extractor struct {
	logger logrus.FieldLogger
}

// NewExtractor 构造提取器，logger 为空时使用 logrus 标准 logger。
func NewExtractor(logger logrus.FieldLogger) *Extractor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extractor{logger: logger}
}

type featureDescriptor struct {
	XMLName xml.Name `xml:"feature"`
	ID      string   `xml:"id,attr"`
	Plugin  string   `xml:"plugin,attr"`
	Label   string   `xml:"label,attr"`
	Version string   `xml:"version,attr"`
}

// ExtractBlob 是 Extract 针对临时 blob 的便捷封装。
func (e *Extractor) ExtractBlob(tb *blob.TempBlob, extension string) (ComponentAttributes, bool, error) {
	f, err := tb.Open()
	if err != nil {
		return ComponentAttributes{}, false, err
	}
	defer f.Close()
	return e.Extract(f, tb.Size(), extension)
}

// Extract 依次尝试 feature.xml 与 MANIFEST.MF。两者都没有结果时返回 ok=false 且 err 为 nil，
// 单个条目损坏只记录日志；只有载荷根本不是归档时才返回 ErrNotArchive。
func (e *Extractor) Extract(r io.ReaderAt, size int64, extension string) (ComponentAttributes, bool, error) {
	archive, err := e.openArchive(r, size, extension)
	if err != nil || archive == nil {
		return ComponentAttributes{}, false, err
	}

	entries := indexEntries(archive)
	attrs := ComponentAttributes{Extension: extension}

	found := false
	if f, ok := entries[featureEntry]; ok {
		found = e.fromFeature(f, entries, &attrs)
	}
	if !found {
		found = e.fromManifest(archive, entries, &attrs)
	}
	if !found {
		return ComponentAttributes{}, false, nil
	}

	attrs.ComponentName = NormalizeComponentName(attrs.ComponentName)
	if attrs.ComponentName == "" && attrs.ComponentVersion == "" {
		return ComponentAttributes{}, false, nil
	}
	return attrs, true, nil
}

// openArchive 打开 jar；pack.gz 先解压到内存。Pack200 流无法直接读取，按未命中处理。
func (e *Extractor) openArchive(r io.ReaderAt, size int64, extension string) (*zip.Reader, error) {
	if extension != "pack.gz" {
		zr, err := zip.NewReader(r, size)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
		}
		return zr, nil
	}

	gz, err := gzip.NewReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	defer gz.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(gz, maxInflatedPack+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	if n > maxInflatedPack {
		return nil, fmt.Errorf("%w: inflated pack exceeds %d bytes", ErrNotArchive, maxInflatedPack)
	}

	data := buf.Bytes()
	switch {
	case bytes.HasPrefix(data, zipMagic):
	case bytes.HasPrefix(data, pack200Magic):
		e.logger.WithField("action", "extract_skipped").Debug("pack200 payload cannot be inspected")
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown pack.gz payload", ErrNotArchive)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	return zr, nil
}

func (e *Extractor) fromFeature(f *zip.File, entries map[string]*zip.File, attrs *ComponentAttributes) bool {
	data, err := readEntry(f)
	if err != nil {
		e.warn(featureEntry, err)
		return false
	}
	var feature featureDescriptor
	if err := xml.Unmarshal(data, &feature); err != nil {
		e.warn(featureEntry, malformed(featureEntry, err))
		return false
	}

	name := feature.ID
	if name == "" {
		name = feature.Plugin
	}
	if name == "" && feature.Version == "" {
		return false
	}

	bundle := e.loadBundle(entries, featurePropertiesEntry)
	attrs.ComponentName = localize(bundle, name)
	attrs.ComponentVersion = localize(bundle, feature.Version)
	attrs.PluginName = localize(bundle, feature.Label)
	return true
}

func (e *Extractor) fromManifest(archive *zip.Reader, entries map[string]*zip.File, attrs *ComponentAttributes) bool {
	f := findManifest(archive)
	if f == nil {
		return false
	}
	data, err := readEntry(f)
	if err != nil {
		e.warn(f.Name, err)
		return false
	}
	mf, err := parseManifest(bytes.NewReader(data))
	if err != nil {
		e.warn(f.Name, malformed(f.Name, err))
		return false
	}

	var bundle *properties.Properties
	if base := mf.localizationBase(); base != "" {
		bundle = e.loadBundle(entries, base+".properties")
	}
	attrs.ComponentName = localize(bundle, mf.get("Bundle-SymbolicName"))
	attrs.ComponentVersion = localize(bundle, mf.get("Bundle-Version"))
	attrs.PluginName = localize(bundle, mf.get("Bundle-Name"))
	return attrs.ComponentName != "" || attrs.ComponentVersion != ""
}

// loadBundle 读取本地化资源；缺失或损坏时返回 nil，调用方保留原始 % 值。
func (e *Extractor) loadBundle(entries map[string]*zip.File, name string) *properties.Properties {
	f, ok := entries[name]
	if !ok {
		return nil
	}
	data, err := readEntry(f)
	if err != nil {
		e.warn(name, err)
		return nil
	}
	loader := properties.Loader{Encoding: properties.ISO_8859_1, DisableExpansion: true}
	props, err := loader.LoadBytes(data)
	if err != nil {
		e.warn(name, malformed(name, err))
		return nil
	}
	return props
}

func (e *Extractor) warn(entry string, err error) {
	e.logger.WithFields(logrus.Fields{
		"action": "extract_failed",
		"entry":  entry,
	}).WithError(err).Warn("component metadata entry skipped")
}

// localize 把 "%key" 替换为资源中的值，找不到时保留字面量。
func localize(bundle *properties.Properties, value string) string {
	value = strings.TrimSpace(value)
	if bundle == nil || !strings.HasPrefix(value, "%") {
		return value
	}
	if v, ok := bundle.Get(strings.TrimPrefix(value, "%")); ok {
		return v
	}
	return value
}

func indexEntries(archive *zip.Reader) map[string]*zip.File {
	entries := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		if _, dup := entries[f.Name]; !dup {
			entries[f.Name] = f
		}
	}
	return entries
}

// findManifest 优先取标准 manifest 条目，否则取 META-INF/ 下第一个文件。
func findManifest(archive *zip.Reader) *zip.File {
	var fallback *zip.File
	for _, f := range archive.File {
		if strings.EqualFold(f.Name, manifestPath) {
			return f
		}
		if fallback == nil && strings.HasPrefix(f.Name, manifestDir) && !strings.HasSuffix(f.Name, "/") {
			fallback = f
		}
	}
	return fallback
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntryBytes {
		return nil, errors.New("entry too large")
	}
	return data, nil
}
