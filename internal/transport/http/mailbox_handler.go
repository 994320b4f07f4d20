package httptransport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
)

const (
	cacheControlNoStore = "no-store, no-cache, must-revalidate"
	defaultMaxAge       = 5 * time.Second
)

type addressResponse struct {
	Address string `json:"address"`
}

type ingestResponse struct {
	ID         int64 `json:"id"`
	ReceivedAt int64 `json:"receivedAt"`
}

type messageListResponse struct {
	Items []domain.MessageView `json:"items"`
	Count int                  `json:"count"`
}

type clearResponse struct {
	RemovedCount int64 `json:"removedCount"`
}

// generateAddress godoc
// @Summary 生成临时邮箱地址
// @Description 使用配置的域名生成一个随机地址，不做持久化
// @Tags Address
// @Produce json
// @Success 200 {object} addressResponse
// @Failure 503 {object} Response
// @Router /v1/address [get]
func (h *Handler) generateAddress(c *gin.Context) {
	address, err := h.mailboxes.GenerateAddress()
	if err != nil {
		h.log.Error("failed to generate address", zap.Error(err))
		Fail(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordAddressGenerated()
	}
	Success(c, addressResponse{Address: address})
}

// ingestMessage godoc
// @Summary 接收入站邮件
// @Description 校验并保存一封入站邮件，ID 与接收时间由服务端分配
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body domain.InboundMessage true "入站邮件"
// @Success 201 {object} ingestResponse
// @Failure 400 {object} Response
// @Failure 413 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Failure 503 {object} Response
// @Router /v1/messages [post]
func (h *Handler) ingestMessage(c *gin.Context) {
	var req domain.InboundMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(c, http.StatusRequestEntityTooLarge, "BodyTooLarge", MsgBodyTooLarge)
			return
		}
		BadRequest(c, "InvalidJSON", MsgInvalidJSON)
		return
	}

	message, err := h.mailboxes.Ingest(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}

	Created(c, ingestResponse{ID: message.ID, ReceivedAt: message.ReceivedAt})
}

// listMessages godoc
// @Summary 获取邮件列表
// @Description 返回地址下最新的邮件，按接收时间倒序；skipCache=true 时跳过缓存
// @Tags Messages
// @Produce json
// @Param address query string false "邮箱地址"
// @Param skipCache query bool false "是否跳过缓存"
// @Success 200 {object} messageListResponse
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Failure 503 {object} Response
// @Router /v1/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	address := domain.NormalizeAddress(requestAddress(c))
	if address == "" {
		Fail(c, domain.NewMissingAddress())
		return
	}

	skipCache := parseSkipCache(c.Query("skipCache"))
	ctx := c.Request.Context()

	if !skipCache {
		views, hit, err := h.cache.Get(ctx, address)
		if err != nil {
			h.log.Warn("list cache lookup failed", zap.String("address", address), zap.Error(err))
		}
		if h.metrics != nil {
			h.metrics.RecordCacheLookup(hit)
		}
		if hit {
			h.setCacheHeaders(c, false)
			Success(c, messageListResponse{Items: views, Count: len(views)})
			return
		}
	}

	views, err := h.mailboxes.List(ctx, address)
	if err != nil {
		Fail(c, err)
		return
	}

	if !skipCache {
		if err := h.cache.Set(ctx, address, views); err != nil {
			h.log.Warn("failed to populate list cache", zap.String("address", address), zap.Error(err))
		}
	}

	h.setCacheHeaders(c, skipCache)
	Success(c, messageListResponse{Items: views, Count: len(views)})
}

// clearMessages godoc
// @Summary 清空邮箱
// @Description 删除地址下的全部邮件，返回删除数量；重复调用返回 0
// @Tags Messages
// @Produce json
// @Param address query string false "邮箱地址"
// @Success 200 {object} clearResponse
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Failure 503 {object} Response
// @Router /v1/messages [delete]
func (h *Handler) clearMessages(c *gin.Context) {
	removed, err := h.mailboxes.Clear(c.Request.Context(), requestAddress(c))
	if err != nil {
		Fail(c, err)
		return
	}

	Success(c, clearResponse{RemovedCount: removed})
}

func (h *Handler) setCacheHeaders(c *gin.Context, skipCache bool) {
	if skipCache {
		c.Header("Cache-Control", cacheControlNoStore)
		c.Header("Pragma", "no-cache")
		return
	}
	maxAge := h.cacheTTL
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	c.Header("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
}

// requestAddress 路径参数优先，其次查询参数
func requestAddress(c *gin.Context) string {
	if address := c.Param("address"); address != "" {
		return address
	}
	return c.Query("address")
}

func parseSkipCache(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1":
		return true
	default:
		return false
	}
}
