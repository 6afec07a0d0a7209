package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/healthz", LivenessHandler)
	router.GET("/readyz", ReadinessHandler(m))
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLiveness(t *testing.T) {
	w := get(newRouter(NewManager()), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestReadinessAllChecksPass(t *testing.T) {
	m := NewManager()
	m.AddCheck("postgres", func(context.Context) error { return nil })
	m.AddCheck("redis", func(context.Context) error { return nil })

	w := get(newRouter(m), "/readyz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
}

func TestReadinessFailingCheck(t *testing.T) {
	m := NewManager()
	m.AddCheck("postgres", func(context.Context) error { return nil })
	m.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	w := get(newRouter(m), "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Checks["postgres"] != "ok" {
		t.Errorf("postgres = %q, want ok", resp.Checks["postgres"])
	}
	if resp.Checks["redis"] != "connection refused" {
		t.Errorf("redis = %q", resp.Checks["redis"])
	}
}
