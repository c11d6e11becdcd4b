package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
	"go.uber.org/zap"
)

func (h *Handler) Options(c *gin.Context) {
	h.captureCredentials(c)
	opts, err := h.Catalog.ListOptions(c.Request.Context())
	if err != nil {
		h.backendError(c, "list options", err)
		return
	}
	common.OK(c, opts)
}

func (h *Handler) Questions(c *gin.Context) {
	h.captureCredentials(c)
	profile := strings.TrimSpace(c.Query("profile"))
	if profile == "" {
		profile = h.App.Settings.Current().ProfileName
	}
	qs, err := h.Catalog.ListRecommendedQuestions(c.Request.Context(), profile)
	if err != nil {
		h.backendError(c, "list questions", err)
		return
	}
	common.OK(c, gin.H{"profile_name": profile, "questions": qs})
}

func (h *Handler) PostFeedback(c *gin.Context) {
	var fb backend.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if fb.FeedbackType != "upvote" && fb.FeedbackType != "downvote" {
		common.Fail(c, http.StatusBadRequest, 10003, "feedback_type must be upvote or downvote")
		return
	}
	if fb.SessionID == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "session_id required")
		return
	}
	if fb.UserID == "" {
		fb.UserID = h.App.Identity().UserID
	}
	if fb.DataProfile == "" {
		fb.DataProfile = h.App.Settings.Current().ProfileName
	}
	h.captureCredentials(c)

	if err := h.Feedback.PublishFeedback(c.Request.Context(), fb); err != nil {
		h.Logger.Warn("feedback not accepted", zap.String("session_id", fb.SessionID), zap.Error(err))
		h.backendError(c, "submit feedback", err)
		return
	}
	common.OK(c, gin.H{"accepted": true})
}
