package p2

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
)

// recordingReader 逐字节向 xml.Decoder 供数，同时记录已读字节，
// 使每个 token 都能取回它在输入中的原始字节。
type recordingReader struct {
	r   *bufio.Reader
	buf []byte
}

func (r *recordingReader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err == nil {
		r.buf = append(r.buf, b)
	}
	return b, err
}

func (r *recordingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = b
	return 1, nil
}

// tokenStream 在解析 token 的同时返回其原始字节，未改动的部分可原样写回。
// 自闭合元素合成的 EndElement 没有原始字节。
type tokenStream struct {
	dec  *xml.Decoder
	rec  *recordingReader
	prev int64
}

func newTokenStream(r io.Reader) *tokenStream {
	rec := &recordingReader{r: bufio.NewReaderSize(r, 64*1024)}
	return &tokenStream{dec: xml.NewDecoder(rec), rec: rec}
}

func (s *tokenStream) next() (xml.Token, []byte, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return nil, nil, err
	}
	off := s.dec.InputOffset()
	n := int(off - s.prev)
	s.prev = off

	raw := make([]byte, n)
	copy(raw, s.rec.buf[:n])
	s.rec.buf = append(s.rec.buf[:0], s.rec.buf[n:]...)
	return tok, raw, nil
}

var sizeAttrPattern = regexp.MustCompile(`(\ssize\s*=\s*)(['"])[^'"]*(['"])`)

// patchSize 改写开始标签上的 size 属性值，保持原有引号；没有 size 属性时原样返回。
func patchSize(startTag []byte, size int) []byte {
	loc := sizeAttrPattern.FindSubmatchIndex(startTag)
	if loc == nil {
		return startTag
	}
	out := make([]byte, 0, len(startTag)+4)
	out = append(out, startTag[:loc[5]]...)
	out = strconv.AppendInt(out, int64(size), 10)
	out = append(out, startTag[loc[6]:]...)
	return out
}

func attrValue(el xml.StartElement, name string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func isWhitespace(raw []byte) bool {
	return len(bytes.TrimSpace(raw)) == 0
}

func escapeAttr(value string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(value))
	return b.String()
}
