package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	// CTXKeyRequestID echo 请求 ID 在 context 中的键
	CTXKeyRequestID contextKey = "request_id"
)

// LogFromContext 返回绑定到请求的 logger，未绑定时回退到全局 logger
func LogFromContext(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &log.Logger
	}
	return l
}

// RequestIDFromContext 返回请求 ID，未设置时为空串
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(CTXKeyRequestID).(string); ok {
		return id
	}
	return ""
}
