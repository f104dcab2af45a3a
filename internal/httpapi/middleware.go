package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logEventHTTPRequest = "http"

	// RequestIDHeader carries the request identifier echoed back to callers.
	RequestIDHeader = "X-Request-ID"
	// RequestIDContextKey stores the request identifier in the gin context.
	RequestIDContextKey = "request_id"

	maxRequestIDLength = 64
)

// RequestLogger tags each request with an identifier and logs it once the handler returns.
// Server errors log at error level and client errors at warn level.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(context *gin.Context) {
		start := time.Now()
		requestID := incomingRequestID(context.GetHeader(RequestIDHeader))
		context.Set(RequestIDContextKey, requestID)
		context.Header(RequestIDHeader, requestID)

		context.Next()

		status := context.Writer.Status()
		route := context.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String(RequestIDContextKey, requestID),
			zap.String("method", context.Request.Method),
			zap.String("route", route),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("dur", time.Since(start)),
			zap.Int64("bytes_in", context.Request.ContentLength),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		}
		if len(context.Errors) > 0 {
			fields = append(fields, zap.String("errors", context.Errors.String()))
		}
		if entry := logger.Check(levelForStatus(status), logEventHTTPRequest); entry != nil {
			entry.Write(fields...)
		}
	}
}

func incomingRequestID(headerValue string) string {
	trimmed := strings.TrimSpace(headerValue)
	if trimmed == "" || len(trimmed) > maxRequestIDLength {
		return uuid.NewString()
	}
	return trimmed
}

func levelForStatus(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
