package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
)

func (h *Handler) snapshot() gin.H {
	return gin.H{
		"searching":         h.App.Searching(),
		"active_session_id": h.App.Store.ActiveID(),
		"connection":        h.App.ConnectionState().String(),
		"status":            h.App.Status(""),
		"live_turns":        h.App.Turns.Live(),
	}
}

func (h *Handler) State(c *gin.Context) {
	common.OK(c, h.snapshot())
}

// Events streams application events as SSE until the client goes away.
func (h *Handler) Events(c *gin.Context) {
	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		// can't stream
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	ctx := c.Request.Context()
	events, cancel := h.App.Bus.Subscribe(64)
	defer cancel()

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: send a simple error that won't break SSE framing
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	writeJSON("state", h.snapshot())

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			writeJSON(string(e.Type), e)

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}
