package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可被探测的依赖，例如存储或缓存
type Pinger interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
	checks map[string]Pinger
}

// NewHealthChecker 创建健康检查器，存储为存活检查项
func NewHealthChecker(store Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger,
		checks: make(map[string]Pinger),
	}

	hc.health.AddLivenessCheck("store", hc.wrap("store", store))
	hc.checks["store"] = store
	return hc
}

// AddReadinessCheck 添加就绪检查项（如列表缓存），失败时服务不就绪但仍存活
func (hc *HealthChecker) AddReadinessCheck(name string, dep Pinger) {
	hc.health.AddReadinessCheck(name, hc.wrap(name, dep))
	hc.checks[name] = dep
}

// Handler 返回健康检查处理器
//
// 路由：/live 只执行存活检查，/ready 执行全部检查
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行全部检查并返回结果摘要
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string, len(hc.checks)+1)
	for name, dep := range hc.checks {
		if err := dep.Health(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// Healthy 所有检查项均通过时返回 true
func (hc *HealthChecker) Healthy() bool {
	for _, dep := range hc.checks {
		if dep.Health() != nil {
			return false
		}
	}
	return true
}

func (hc *HealthChecker) wrap(name string, dep Pinger) healthcheck.Check {
	return healthcheck.Timeout(func() error {
		if err := dep.Health(); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}, 5*time.Second)
}
