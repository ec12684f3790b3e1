package p2

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedAssetPath 表示路径不属于任何已知的 p2 资源形状。
var ErrUnsupportedAssetPath = errors.New("unsupported asset path")

// ErrNotArchive 表示待提取的内容不是 jar/zip 归档。
var ErrNotArchive = errors.New("payload is not a jar archive")

// ClassificationError 携带无法分类的原始路径，errors.Is 可匹配 ErrUnsupportedAssetPath。
type ClassificationError struct {
	Path string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedAssetPath.Error(), e.Path)
}

func (e *ClassificationError) Unwrap() error {
	return ErrUnsupportedAssetPath
}

// MalformedMetadataError 表示 XML、压缩流或 manifest 无法解析。
// 调用方应记录日志并按原样透传内容，而不是让整个请求失败。
type MalformedMetadataError struct {
	Name string
	Err  error
}

func (e *MalformedMetadataError) Error() string {
	return fmt.Sprintf("malformed metadata %s: %v", e.Name, e.Err)
}

func (e *MalformedMetadataError) Unwrap() error {
	return e.Err
}

func malformed(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *MalformedMetadataError
	if errors.As(err, &existing) {
		return err
	}
	return &MalformedMetadataError{Name: name, Err: err}
}
