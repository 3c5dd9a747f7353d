package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"quotehub.com/pkg/common"
	"quotehub.com/pkg/logger"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.NewID()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// 没有 otel span 时日志用 request id 当 trace_id
		ctx := context.WithValue(c.Request.Context(), logger.TraceIdKey, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
