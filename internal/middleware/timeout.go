package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

// TimeoutConfig represents timeout middleware configuration
type TimeoutConfig struct {
	Duration time.Duration
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Duration: 10 * time.Second,
	}
}

// Timeout bounds the request context. Handlers run on the request goroutine
// and stores give up when the deadline passes; a request that ran out of time
// without answering gets a 503.
func Timeout(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Duration)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			httputil.RespondWithError(c, errors.Transient("request timeout", ctx.Err()))
		}
	}
}
