package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"duraq/pkg/queue"
)

// streamActivity handles GET /api/v1/activity, a Server-Sent-Events
// feed of lifecycle events for live dashboards. Best-effort: a
// disconnected client simply misses events published while it was
// away, consistent with Activity's lossy pub/sub delivery.
func (s *Server) streamActivity(c *gin.Context) {
	if s.activity == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "activity bus not configured"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan queue.ActivityEvent, 64)
	sub, err := queue.Subscribe(ctx, s.activity, func(ev queue.ActivityEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed: " + err.Error()})
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent("activity", ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
