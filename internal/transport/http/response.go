package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mailrelay/backend/internal/domain"
)

// Response 统一响应结构
type Response struct {
	Code  int         `json:"code"`            // 业务状态码
	Msg   string      `json:"msg"`             // 中文提示信息
	Error string      `json:"error,omitempty"` // 错误类别，如 MissingField、StoreUnavailable
	Data  interface{} `json:"data,omitempty"`  // 数据载荷
}

// 业务状态码定义
const (
	// 成功状态码 2xx
	CodeSuccess = 200 // 成功
	CodeCreated = 201 // 创建成功

	// 客户端错误 4xx
	CodeBadRequest = 400 // 请求参数错误

	// 服务器错误 5xx
	CodeInternalError      = 500 // 服务器内部错误
	CodeServiceUnavailable = 503 // 服务不可用
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "成功",
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: CodeCreated,
		Msg:  "创建成功",
		Data: data,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, kind, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:  CodeBadRequest,
		Msg:   msg,
		Error: kind,
	})
}

// Error 通用错误响应（根据HTTP状态码自动选择）
func Error(c *gin.Context, httpCode int, kind, msg string) {
	c.JSON(httpCode, Response{
		Code:  httpCode,
		Msg:   msg,
		Error: kind,
	})
}

// Fail 根据业务错误类型输出错误响应
func Fail(c *gin.Context, err error) {
	status := StatusCode(err)
	c.JSON(status, Response{
		Code:  status,
		Msg:   GetErrorMessage(err),
		Error: domain.ErrorKind(err),
	})
}
