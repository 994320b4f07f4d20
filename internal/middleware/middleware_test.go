package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingRecorder struct {
	mu     sync.Mutex
	blocks map[string]int
}

func (r *countingRecorder) RecordRateLimitBlock(limitType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocks == nil {
		r.blocks = make(map[string]int)
	}
	r.blocks[limitType]++
}

func perform(router *gin.Engine, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	t.Run("自动生成", func(t *testing.T) {
		rec := perform(router, http.MethodGet, "/ping", "", nil)
		id := rec.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, rec.Body.String())
	})

	t.Run("沿用客户端ID", func(t *testing.T) {
		rec := perform(router, http.MethodGet, "/ping", "", map[string]string{RequestIDHeader: "abc-123"})
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := perform(router, http.MethodGet, "/", "", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRecoveryHandler(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), RecoveryHandler(nil), RequestLogger(nil))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	rec := perform(router, http.MethodGet, "/panic", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"Internal"`)
}

func TestBodySizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(BodySizeLimit(16))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := perform(router, http.MethodPost, "/", "small", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "16", rec.Header().Get("X-Max-Body-Size"))

	rec = perform(router, http.MethodPost, "/", strings.Repeat("x", 64), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimitByIP(t *testing.T) {
	recorder := &countingRecorder{}
	limiter := NewIPRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	router := gin.New()
	router.POST("/ingest", RateLimitByIP(limiter, "ingest", recorder, nil), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	assert.Equal(t, http.StatusCreated, perform(router, http.MethodPost, "/ingest", "", nil).Code)
	assert.Equal(t, http.StatusCreated, perform(router, http.MethodPost, "/ingest", "", nil).Code)

	rec := perform(router, http.MethodPost, "/ingest", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, recorder.blocks["ingest"])

	// 令牌补充后恢复
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusCreated, perform(router, http.MethodPost, "/ingest", "", nil).Code)

	// 长时间未访问的 IP 被清理
	now = now.Add(time.Hour)
	assert.Equal(t, 1, limiter.Cleanup())
}

func TestRateLimitByIP_Disabled(t *testing.T) {
	router := gin.New()
	router.POST("/ingest", RateLimitByIP(NewIPRateLimiter(0, 0), "ingest", nil, nil), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusCreated, perform(router, http.MethodPost, "/ingest", "", nil).Code)
	}
}

func TestMonitoringMiddleware(t *testing.T) {
	metrics := monitoring.NewMetrics()
	mm := NewMonitoringMiddleware(metrics, nil)

	router := gin.New()
	router.Use(mm.PanicRecovery(), mm.HTTPMetrics())
	router.GET("/v1/messages", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	perform(router, http.MethodGet, "/v1/messages", "", nil)
	perform(router, http.MethodGet, "/nowhere", "", nil)
	rec := perform(router, http.MethodGet, "/panic", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/v1/messages", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PanicsTotal))
}
