package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有校验错误的公共根，CLI 可以用 errors.Is 区分配置问题与 IO 问题。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 指向出错的配置字段，例如 Hub[eclipse].Upstream。
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e FieldError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.Err}
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

func wrapFieldError(field string, err error) error {
	return FieldError{Field: field, Err: err}
}

// hubField 生成 Hub[name].Field 形式的字段路径。
func hubField(name, field string) string {
	return fmt.Sprintf("Hub[%s].%s", name, field)
}
