package p2

import (
	"context"
	"encoding/xml"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/p2-hub/internal/blob"
	"github.com/any-hub/p2-hub/internal/fetch"
)

const (
	mirrorsURLProperty = "p2.mirrorsURL"

	// DefaultCompositeMaxDepth 是复合仓库递归展开的默认深度上限。
	DefaultCompositeMaxDepth = 8

	ctxCheckInterval = 512
)

// CompositeFamily 决定嵌套探测的文件名：compositeArtifacts 或 compositeContent。
type CompositeFamily string

const (
	FamilyArtifacts CompositeFamily = "Artifacts"
	FamilyContent   CompositeFamily = "Content"
)

// FamilyOf 返回复合描述文件所属族，非复合类型返回空串。
func FamilyOf(kind AssetKind) CompositeFamily {
	switch kind {
	case AssetKindCompositeArtifacts:
		return FamilyArtifacts
	case AssetKindCompositeContent:
		return FamilyContent
	}
	return ""
}

// CompositeRequest 描述一次复合仓库展平所需的上下文。
type CompositeRequest struct {
	// RepositoryName 用于拼接本地代理路径 /repository/{name}/...
	RepositoryName string
	// BaseURL 是复合描述文件所在目录的远端地址，以 "/" 结尾。
	BaseURL string
	Family  CompositeFamily
	// LogicalName 是被改写文件的请求路径，用于 jar 条目名与日志。
	LogicalName string
	Encoding    Encoding
	Fetcher     fetch.Fetcher
	// OnLeaf 可选，对每个写入结果的叶子仓库远端地址调用一次。
	OnLeaf func(location string)
}

// Rewriter 执行两类流式元数据改写，输出写入新的临时 blob。
// 输入 blob 的所有权不被消费，调用方负责释放输入与输出。
type Rewriter struct {
	blobs    *blob.Factory
	logger   logrus.FieldLogger
	maxDepth int
}

func NewRewriter(blobs *blob.Factory, logger logrus.FieldLogger, maxDepth int) *Rewriter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultCompositeMaxDepth
	}
	return &Rewriter{blobs: blobs, logger: logger, maxDepth: maxDepth}
}

// RemoveMirrors 删除 artifacts 元数据中的 p2.mirrorsURL 属性并修正 properties/@size。
// 多次执行结果一致。
func (r *Rewriter) RemoveMirrors(ctx context.Context, in *blob.TempBlob, logicalName string, enc Encoding) (*blob.TempBlob, error) {
	return r.transform(ctx, in, logicalName, enc, func(src io.Reader, dst io.Writer) error {
		return stripMirrors(ctx, src, dst)
	})
}

// FlattenComposite 把复合仓库的子节点递归展开为叶子仓库，并改写为本地代理路径。
func (r *Rewriter) FlattenComposite(ctx context.Context, in *blob.TempBlob, req CompositeRequest) (*blob.TempBlob, error) {
	if req.Family == "" {
		req.Family = FamilyArtifacts
	}
	resolver := newCompositeResolver(ctx, req, r.maxDepth, r.logger)
	return r.transform(ctx, in, req.LogicalName, req.Encoding, func(src io.Reader, dst io.Writer) error {
		return flattenChildren(ctx, src, dst, req.RepositoryName, resolver)
	})
}

func (r *Rewriter) transform(ctx context.Context, in *blob.TempBlob, logicalName string, enc Encoding, fn func(io.Reader, io.Writer) error) (*blob.TempBlob, error) {
	entryName := MetadataEntryName(logicalName)
	src, err := openXML(in, enc, entryName)
	if err != nil {
		return nil, malformed(logicalName, err)
	}
	defer src.Close()

	out, err := r.blobs.CreateWith(ctx, func(w io.Writer) error {
		return encodeXML(w, enc, entryName, func(xw io.Writer) error {
			return fn(src, xw)
		})
	})
	if err != nil {
		return nil, malformed(logicalName, err)
	}
	return out, nil
}

// propertiesBlock 缓存一个 <properties> 子树，直到知道保留下来的 property 数量。
type propertiesBlock struct {
	start    []byte
	body     []byte
	retained int
	// wsStart 指向 body 末尾那段纯空白的起点，没有时为 -1。
	wsStart int
}

func (b *propertiesBlock) write(raw []byte, whitespace bool) {
	if whitespace {
		if b.wsStart < 0 {
			b.wsStart = len(b.body)
		}
	} else if len(raw) > 0 {
		b.wsStart = -1
	}
	b.body = append(b.body, raw...)
}

func (b *propertiesBlock) dropTrailingWhitespace() {
	if b.wsStart >= 0 {
		b.body = b.body[:b.wsStart]
		b.wsStart = -1
	}
}

func stripMirrors(ctx context.Context, src io.Reader, dst io.Writer) error {
	ts := newTokenStream(src)
	var (
		block *propertiesBlock
		depth int
		skip  int
		count int
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

		switch t := tok.(type) {
		case xml.StartElement:
			if skip > 0 {
				skip++
				continue
			}
			if block == nil {
				if t.Name.Local == "properties" {
					block = &propertiesBlock{start: raw, wsStart: -1}
					depth = 0
					continue
				}
				break
			}
			if depth == 0 && t.Name.Local == "property" {
				if name, _ := attrValue(t, "name"); name == mirrorsURLProperty {
					block.dropTrailingWhitespace()
					skip = 1
					continue
				}
				block.retained++
			}
			depth++
			block.write(raw, false)
			continue
		case xml.EndElement:
			if skip > 0 {
				skip--
				continue
			}
			if block == nil {
				break
			}
			if depth == 0 {
				if err := writeAll(dst, patchSize(block.start, block.retained), block.body, raw); err != nil {
					return err
				}
				block = nil
				continue
			}
			depth--
			block.write(raw, false)
			continue
		case xml.CharData:
			if skip > 0 {
				continue
			}
			if block != nil {
				block.write(raw, isWhitespace(raw))
				continue
			}
		default:
			if skip > 0 {
				continue
			}
			if block != nil {
				block.write(raw, false)
				continue
			}
		}

		if _, err := dst.Write(raw); err != nil {
			return err
		}
	}

	if block != nil {
		return errors.New("unterminated properties element")
	}
	return nil
}

func writeAll(w io.Writer, chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}
