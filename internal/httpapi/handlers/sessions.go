package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
	"go.uber.org/zap"
)

type sessionView struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Messages  int    `json:"messages"`
	Active    bool   `json:"active"`
}

func (h *Handler) ListSessions(c *gin.Context) {
	activeID := h.App.Store.ActiveID()
	list := h.App.Store.List()

	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			SessionID: s.ID,
			Title:     s.Title,
			Messages:  len(s.Messages),
			Active:    s.ID == activeID,
		})
	}
	common.OK(c, gin.H{"sessions": out, "active_session_id": activeID})
}

func (h *Handler) CreateSession(c *gin.Context) {
	sess, err := h.App.CreateSession(c.Request.Context())
	if err != nil {
		h.Logger.Error("create session failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}
	common.OK(c, gin.H{"session_id": sess.ID, "title": sess.Title})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	active, err := h.App.DeleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	common.OK(c, gin.H{"active_session_id": active.ID})
}

func (h *Handler) SelectSession(c *gin.Context) {
	h.captureCredentials(c)
	sess, err := h.App.SelectSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) ListMessages(c *gin.Context) {
	sess, ok := h.App.Store.Get(c.Param("id"))
	if !ok {
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
		return
	}
	common.OK(c, gin.H{"session_id": sess.ID, "title": sess.Title, "messages": sess.Messages})
}

func (h *Handler) ClearMessages(c *gin.Context) {
	h.captureCredentials(c)
	id := c.Param("id")
	if err := h.App.ClearHistory(c.Request.Context(), id); err != nil {
		h.sessionError(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": id})
}

func (h *Handler) SessionStatus(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.App.Store.Get(id); !ok {
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
		return
	}
	common.OK(c, gin.H{
		"session_id": id,
		"searching":  h.App.Searching(),
		"status":     h.App.Status(id),
		"pending":    h.App.Turns.Pending(id),
	})
}

// SyncSessions pulls the backend's session list into the local store.
func (h *Handler) SyncSessions(c *gin.Context) {
	h.captureCredentials(c)
	n, err := h.App.SyncSessions(c.Request.Context())
	if err != nil {
		h.backendError(c, "list sessions", err)
		return
	}
	common.OK(c, gin.H{"imported": n})
}

func (h *Handler) sessionError(c *gin.Context, err error) {
	if errors.Is(err, chat.ErrSessionNotFound) {
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
		return
	}
	h.Logger.Error("session operation failed", zap.Error(err))
	common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
}
