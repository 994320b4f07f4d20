package httptransport

import (
	"errors"
	"net/http"

	"mailrelay/backend/internal/domain"
)

// 错误消息映射表（错误类别 -> 中文消息）
var errorMessages = map[error]string{
	domain.ErrMissingField:        "缺少必填字段",
	domain.ErrMissingAddress:      "缺少邮箱地址",
	domain.ErrDomainNotConfigured: "未配置邮箱域名",

	domain.ErrStoreUnavailable: "存储服务暂不可用，请稍后重试",
	domain.ErrWriteFailed:      "保存邮件失败",
	domain.ErrQueryFailed:      "获取邮件列表失败",
	domain.ErrDeleteFailed:     "清空邮箱失败",
}

// 按优先级匹配，ValidationError 与 StorageError 都可能同时包装多个错误
var errorOrder = []error{
	domain.ErrMissingAddress,
	domain.ErrMissingField,
	domain.ErrDomainNotConfigured,
	domain.ErrStoreUnavailable,
	domain.ErrWriteFailed,
	domain.ErrQueryFailed,
	domain.ErrDeleteFailed,
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for _, target := range errorOrder {
		if errors.Is(err, target) {
			msg := errorMessages[target]
			var ve *domain.ValidationError
			if errors.As(err, &ve) && ve.Field != "" {
				msg += "：" + ve.Field
			}
			return msg
		}
	}
	return MsgInternalError
}

// StatusCode 将业务错误映射为 HTTP 状态码
//
// 校验错误为 400，存储不可用与域名未配置为 503，其余存储错误为 500。
func StatusCode(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrDomainNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidJSON  = "JSON格式错误"
	MsgBodyTooLarge = "请求体过大"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
