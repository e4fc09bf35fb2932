package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/socialfeed/feed"
)

// ViewRecorder is implemented by feed.Service.
type ViewRecorder interface {
	RecordView(ctx context.Context, id uint) error
}

// ViewCounter counts a view for every successful read of a single post. It
// runs after the handler so failed lookups are never counted.
func ViewCounter(recorder ViewRecorder, route string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != http.MethodGet || c.FullPath() != route {
			return
		}
		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			return
		}

		if err := recorder.RecordView(c.Request.Context(), uint(id)); err != nil && !errors.Is(err, feed.ErrPostNotFound) {
			logger.Warn("record view failed", zap.Uint64("post_id", id), zap.Error(err))
		}
	}
}
