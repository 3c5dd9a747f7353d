package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                  = 200
	RequestParamsError  = 400
	RecordNotFound      = 404
	RateLimited         = 429
	ServerCommonError   = 500
	DbError             = 501
	UpstreamError       = 502
	UnsupportedExchange = 1001
	UnsupportedMarket   = 1002
	UnsupportedChannel  = 1003
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	err  error
}

func (e *CodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.err)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.err }

// Is 按错误码匹配，errors.Is(err, xerr.NewErrCode(xerr.UnsupportedExchange)) 可用
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func Newf(code int, format string, args ...any) error {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给底层错误套上错误码，err 为 nil 时返回 nil
func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: MapErrMsg(code), err: err}
}

// CodeOf 取错误码，非 CodeError 一律按 ServerCommonError
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

// MessageOf 对外可见的错误文案，不透出底层 err
func MessageOf(err error) string {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return MapErrMsg(ServerCommonError)
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "internal error"
	case RequestParamsError:
		return "invalid request"
	case DbError:
		return "database busy"
	case RecordNotFound:
		return "record not found"
	case RateLimited:
		return "too many requests"
	case UpstreamError:
		return "upstream unavailable"
	case UnsupportedExchange:
		return "unsupported exchange"
	case UnsupportedMarket:
		return "unsupported market_type"
	case UnsupportedChannel:
		return "unsupported channel"
	default:
		return "unknown error"
	}
}
