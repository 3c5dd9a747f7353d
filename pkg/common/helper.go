package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/xerr"
)

// Response http 统一返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr 按 xerr 错误码映射 http 状态，对外只给文案，底层 err 进日志
func FailErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	httpStatus := httpStatusOf(code)
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error",
			zap.String("request_id", RequestIDFromGin(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", code),
			zap.Error(err),
		)
	}
	Fail(c, httpStatus, code, xerr.MessageOf(err))
}

func httpStatusOf(code int) int {
	switch code {
	case xerr.RequestParamsError, xerr.UnsupportedExchange, xerr.UnsupportedMarket, xerr.UnsupportedChannel:
		return http.StatusBadRequest
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.RateLimited:
		return http.StatusTooManyRequests
	case xerr.UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
