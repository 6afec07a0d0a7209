package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Check pings one dependency the wallet cannot serve without.
type Check func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// Manager holds the readiness checks registered at startup. A wallet
// instance reports ready only while every registered dependency answers.
type Manager struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewManager() *Manager {
	return &Manager{checks: make(map[string]Check)}
}

// AddCheck registers a named dependency check, replacing any previous
// one under the same name.
func (m *Manager) AddCheck(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Run executes every check and reports per-dependency status. The bool is
// true only when all dependencies answered.
func (m *Manager) Run(ctx context.Context) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]string, len(m.checks))
	healthy := true
	for name, check := range m.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			statuses[name] = err.Error()
			healthy = false
			continue
		}
		statuses[name] = "ok"
	}
	return statuses, healthy
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, healthy := m.Run(c.Request.Context())
		if healthy {
			c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
	}
}
