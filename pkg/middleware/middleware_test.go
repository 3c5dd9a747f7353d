package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
	"quotehub.com/pkg/common"
	"quotehub.com/pkg/ratelimit"
)

func newRouter(store *ratelimit.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ReqId(), Recover(), RateLimit(store))
	r.GET("/ok", func(c *gin.Context) { common.Success(c, common.RequestIDFromGin(c)) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func TestMiddleware_RequestIDAndRecover(t *testing.T) {
	r := newRouter(ratelimit.NewStore("http", rate.Inf, 1, time.Minute))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(common.HeaderRequestID, "rid-1")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rid-1", w.Header().Get(common.HeaderRequestID))
	assert.Contains(t, w.Body.String(), "rid-1")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(common.HeaderRequestID))
}

func TestMiddleware_RateLimit(t *testing.T) {
	r := newRouter(ratelimit.NewStore("http", rate.Limit(0.001), 1, time.Minute))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
