package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField 入站邮件缺少必填字段
	ErrMissingField = errors.New("missing required field")
	// ErrMissingAddress 请求未提供邮箱地址
	ErrMissingAddress = errors.New("missing mailbox address")
	// ErrDomainNotConfigured 未配置邮箱域名
	ErrDomainNotConfigured = errors.New("mailbox domain not configured")

	// ErrStoreUnavailable 存储未配置或不可达
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrWriteFailed 存储可达但写入失败
	ErrWriteFailed = errors.New("write failed")
	// ErrQueryFailed 存储可达但查询失败
	ErrQueryFailed = errors.New("query failed")
	// ErrDeleteFailed 存储可达但删除失败
	ErrDeleteFailed = errors.New("delete failed")
)

// ValidationError 表示客户端提交的数据不完整或格式错误，不应自动重试。
type ValidationError struct {
	Field string
	Err   error
}

// NewMissingField 构造缺少字段的校验错误。
func NewMissingField(field string) *ValidationError {
	return &ValidationError{Field: field, Err: ErrMissingField}
}

// NewMissingAddress 构造缺少邮箱地址的校验错误。
func NewMissingAddress() *ValidationError {
	return &ValidationError{Field: "address", Err: ErrMissingAddress}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StorageError 表示存储层故障。
//
// Kind 是 ErrStoreUnavailable、ErrWriteFailed、ErrQueryFailed、ErrDeleteFailed 之一，
// Err 是底层驱动返回的原始错误（可能为空）。
type StorageError struct {
	Op   string
	Kind error
	Err  error
}

// NewStorageError 构造存储错误。
func NewStorageError(op string, kind, err error) *StorageError {
	return &StorageError{Op: op, Kind: kind, Err: err}
}

// Unavailable 构造存储不可用错误。
func Unavailable(op string, err error) *StorageError {
	return &StorageError{Op: op, Kind: ErrStoreUnavailable, Err: err}
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap 同时暴露错误类别和底层原因，便于 errors.Is 匹配。
func (e *StorageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsValidation 判断是否为客户端校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorKind 返回对外暴露的错误类别名称。
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingAddress):
		return "MissingAddress"
	case errors.Is(err, ErrMissingField):
		return "MissingField"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrWriteFailed):
		return "WriteFailed"
	case errors.Is(err, ErrQueryFailed):
		return "QueryFailed"
	case errors.Is(err, ErrDeleteFailed):
		return "DeleteFailed"
	case errors.Is(err, ErrDomainNotConfigured):
		return "DomainNotConfigured"
	default:
		return "Internal"
	}
}
