package middleware

import (
	"time"

	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogger - Gin middleware для логирования запросов и учета HTTP метрик.
func RequestLogger(log *logger.Logger, m metrics.PaymentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		path := c.Request.URL.Path
		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			path = path + "?" + rawQuery
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		// шаблон маршрута, чтобы id не раздували кардинальность
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m != nil {
			m.ObserveHTTPRequest(c.Request.Method, route, statusCode, latency)
		}

		fields := []any{
			"status_code", statusCode,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		if statusCode >= 500 {
			log.Errorw("Request handled", fields...)
			return
		}
		log.Infow("Request handled", fields...)
	}
}
