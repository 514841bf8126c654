package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buildops/backend/internal/interfaces/http/dto"
)

// BodyLimit rejects requests whose body is larger than maxBytes. Bodies
// without a declared length are cut off while being read.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size", GetRequestID(c)))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
