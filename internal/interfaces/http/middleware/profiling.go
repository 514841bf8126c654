package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"
)

// Profiling labels CPU samples taken while serving a request with its method
// and route pattern so profiles can be split per endpoint. Labels are cheap
// when no profiler is running.
func Profiling() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" || route == "/health" {
			c.Next()
			return
		}
		pyroscope.TagWrapper(c.Request.Context(), pyroscope.Labels("http_method", c.Request.Method, "http_route", route),
			func(ctx context.Context) {
				c.Request = c.Request.WithContext(ctx)
				c.Next()
			})
	}
}
