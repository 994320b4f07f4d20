package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultBodyLimit 普通 API 请求的请求体限制
	DefaultBodyLimit = 1 * 1024 * 1024 // 1MB

	// IngestBodyLimit 入站邮件的请求体限制
	IngestBodyLimit = 25 * 1024 * 1024 // 25MB，与常见邮件服务器的上限一致
)

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":  http.StatusRequestEntityTooLarge,
				"msg":   fmt.Sprintf("请求体超过 %d 字节上限", maxBytes),
				"error": "BodyTooLarge",
			})
			return
		}

		// 限制请求体读取大小
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}
