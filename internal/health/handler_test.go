package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func testContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)
	return c, w
}

func TestLiveness_AlwaysOK(t *testing.T) {
	h := NewHandler(nil)
	c, w := testContext()

	h.Liveness(c)
	assert.Equal(t, 200, w.Code)
}

func TestReadiness_NoDirectoryConfigured_IsHealthy(t *testing.T) {
	h := NewHandler(nil)
	c, w := testContext()

	h.Readiness(c)
	assert.Equal(t, 200, w.Code)
}

func TestReadiness_DirectoryHealthy(t *testing.T) {
	h := NewHandler(&fakePinger{})
	c, w := testContext()

	h.Readiness(c)
	assert.Equal(t, 200, w.Code)
}

func TestReadiness_DirectoryUnhealthy(t *testing.T) {
	h := NewHandler(&fakePinger{err: errors.New("connection refused")})
	c, w := testContext()

	h.Readiness(c)
	assert.Equal(t, 503, w.Code)
}
