package p2

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/p2-hub/internal/fetch"
)

// maxDescriptorBytes 限制嵌套复合描述文件的大小，它们只包含子仓库列表。
const maxDescriptorBytes = 8 << 20

type compositeDescriptor struct {
	Children []struct {
		Location string `xml:"location,attr"`
	} `xml:"children>child"`
}

// childSlot 记录 <children> 中一个 <child> 的位置及其前导空白。
type childSlot struct {
	location string
	indent   []byte
	piece    int
	// wsPiece 是前导空白所在的 piece，没有时为 -1。
	wsPiece int
}

func flattenChildren(ctx context.Context, src io.Reader, dst io.Writer, repository string, resolver *compositeResolver) error {
	ts := newTokenStream(src)
	var (
		inChildren bool
		start      []byte
		pieces     [][]byte
		slots      []childSlot
		lastWS     []byte
		wsPiece    = -1
		depth      int
		skip       int
		count      int
	)

	for {
		count++
		if count%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		tok, raw, err := ts.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if !inChildren {
			if t, ok := tok.(xml.StartElement); ok && t.Name.Local == "children" {
				inChildren = true
				start = raw
				pieces, slots, lastWS, wsPiece = nil, nil, nil, -1
				depth = 0
				continue
			}
			if _, err := dst.Write(raw); err != nil {
				return err
			}
			continue
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if skip > 0 {
				skip++
				continue
			}
			if depth == 0 && t.Name.Local == "child" {
				location, _ := attrValue(t, "location")
				slots = append(slots, childSlot{location: location, indent: lastWS, piece: len(pieces), wsPiece: wsPiece})
				pieces = append(pieces, nil)
				lastWS, wsPiece = nil, -1
				skip = 1
				continue
			}
			depth++
		case xml.EndElement:
			if skip > 0 {
				skip--
				continue
			}
			if depth == 0 {
				leaves, err := expandSlots(ctx, slots, pieces, repository, resolver)
				if err != nil {
					return err
				}
				if err := writeAll(dst, patchSize(start, leaves)); err != nil {
					return err
				}
				for _, p := range pieces {
					if _, err := dst.Write(p); err != nil {
						return err
					}
				}
				if _, err := dst.Write(raw); err != nil {
					return err
				}
				inChildren = false
				continue
			}
			depth--
		case xml.CharData:
			if skip > 0 {
				continue
			}
			if isWhitespace(raw) {
				lastWS, wsPiece = raw, len(pieces)
				pieces = append(pieces, raw)
				continue
			}
		default:
			if skip > 0 {
				continue
			}
		}
		lastWS, wsPiece = nil, -1
		pieces = append(pieces, raw)
	}

	if inChildren {
		return errors.New("unterminated children element")
	}
	return nil
}

// expandSlots 按文档顺序展开每个 child，结果写回 pieces 中对应的占位，返回叶子总数。
func expandSlots(ctx context.Context, slots []childSlot, pieces [][]byte, repository string, resolver *compositeResolver) (int, error) {
	total := 0
	for _, slot := range slots {
		leaves, err := resolver.expand(slot.location)
		if err != nil {
			return 0, err
		}
		var b bytes.Buffer
		for i, leaf := range leaves {
			if i > 0 {
				b.Write(slot.indent)
			}
			b.WriteString("<child location='")
			b.WriteString(escapeAttr(localRepositoryPath(repository, leaf)))
			b.WriteString("'/>")
			if resolver.onLeaf != nil {
				resolver.onLeaf(leaf)
			}
		}
		pieces[slot.piece] = b.Bytes()
		if len(leaves) == 0 && slot.wsPiece >= 0 {
			pieces[slot.wsPiece] = nil
		}
		total += len(leaves)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return total, nil
}

// localRepositoryPath 把远端叶子仓库地址转成 /repository/{repo}/{scheme}/{host}/.../ 形式。
func localRepositoryPath(repository, absolute string) string {
	escaped := strings.Trim(EscapeURIToPath(absolute), "/")
	return "/repository/" + repository + "/" + escaped + "/"
}

// compositeResolver 负责单次改写内的嵌套探测，不跨请求缓存。
type compositeResolver struct {
	ctx      context.Context
	fetcher  fetch.Fetcher
	family   CompositeFamily
	base     *url.URL
	maxDepth int
	visited  map[string]bool
	onLeaf   func(string)
	logger   logrus.FieldLogger
}

func newCompositeResolver(ctx context.Context, req CompositeRequest, maxDepth int, logger logrus.FieldLogger) *compositeResolver {
	r := &compositeResolver{
		ctx:      ctx,
		fetcher:  req.Fetcher,
		family:   req.Family,
		maxDepth: maxDepth,
		visited:  make(map[string]bool),
		onLeaf:   req.OnLeaf,
		logger:   logger,
	}
	if base, err := url.Parse(ensureTrailingSlash(req.BaseURL)); err == nil {
		r.base = base
		r.visited[canonicalLocation(base.String())] = true
	}
	return r
}

// expand 返回 location 展开后的叶子地址。已展开过的复合仓库不再重复展开，
// 超过深度上限的位置直接作为叶子，缺失或无法解析的 location 不产生叶子。
func (r *compositeResolver) expand(location string) ([]string, error) {
	abs, err := r.resolve(r.base, location)
	if err != nil {
		// 无法解析的子仓库直接丢弃，改写成本地路径只会指回 Hub 根
		r.logger.WithFields(logrus.Fields{
			"action":   "composite_child_dropped",
			"location": location,
		}).WithError(err).Warn("composite child location cannot be resolved")
		return nil, nil
	}
	return r.walk(abs, 1)
}

func (r *compositeResolver) walk(loc *url.URL, depth int) ([]string, error) {
	key := canonicalLocation(loc.String())
	if depth > r.maxDepth {
		r.logger.WithFields(logrus.Fields{
			"action":   "composite_depth_exceeded",
			"location": key,
			"depth":    depth,
		}).Warn("composite nesting too deep, treating location as simple repository")
		return []string{key}, nil
	}

	children, isComposite, err := r.probe(loc)
	if err != nil {
		return nil, err
	}
	if !isComposite {
		return []string{key}, nil
	}
	if r.visited[key] {
		return nil, nil
	}
	r.visited[key] = true

	var leaves []string
	for _, child := range children {
		abs, err := r.resolve(loc, child)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"action":   "composite_probe_failed",
				"location": child,
				"parent":   key,
			}).WithError(err).Warn("nested composite child cannot be resolved")
			continue
		}
		sub, err := r.walk(abs, depth+1)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}

func (r *compositeResolver) resolve(parent *url.URL, location string) (*url.URL, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("empty child location")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		dir := *parent
		dir.Path = ensureTrailingSlash(dir.Path)
		ref = dir.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return nil, fmt.Errorf("child location %q has no absolute base", location)
	}
	return ref, nil
}

// probe 依次尝试 composite{Family}.xml 与 .jar。只有上下文取消会作为错误返回，
// 其余失败都记录日志并把该位置视为普通仓库。
func (r *compositeResolver) probe(loc *url.URL) ([]string, bool, error) {
	if r.fetcher == nil {
		return nil, false, nil
	}
	dir := strings.TrimSuffix(loc.String(), "/")
	for _, enc := range []Encoding{EncodingXML, EncodingJar} {
		name := "composite" + string(r.family) + "." + string(enc)
		children, found, err := r.fetchDescriptor(dir+"/"+name, name, enc)
		if err != nil {
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				return nil, false, ctxErr
			}
			r.logger.WithFields(logrus.Fields{
				"action":   "composite_probe_failed",
				"location": dir,
				"file":     name,
			}).WithError(err).Warn("nested composite descriptor unusable, treating location as simple repository")
			return nil, false, nil
		}
		if found {
			return children, true, nil
		}
	}
	return nil, false, nil
}

func (r *compositeResolver) fetchDescriptor(target, name string, enc Encoding) ([]string, bool, error) {
	resp, err := r.fetcher.Fetch(r.ctx, fetch.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptorBytes+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) > maxDescriptorBytes {
		return nil, false, fmt.Errorf("descriptor %s exceeds %d bytes", target, maxDescriptorBytes)
	}

	if enc == EncodingJar {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, false, malformed(name, err)
		}
		entry := findXMLEntry(zr, MetadataEntryName(name))
		if entry == nil {
			return nil, false, malformed(name, errors.New("no xml entry"))
		}
		if data, err = readEntry(entry); err != nil {
			return nil, false, malformed(name, err)
		}
	}

	var desc compositeDescriptor
	if err := xml.Unmarshal(data, &desc); err != nil {
		return nil, false, malformed(name, err)
	}
	children := make([]string, 0, len(desc.Children))
	for _, c := range desc.Children {
		children = append(children, c.Location)
	}
	return children, true, nil
}

func ensureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func canonicalLocation(s string) string {
	return strings.TrimSuffix(s, "/")
}
