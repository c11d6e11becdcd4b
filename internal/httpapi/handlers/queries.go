package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/app"
	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
)

type queryReq struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query" binding:"required"`

	// set when answering a clarification or entity question
	QueryRewrite     string          `json:"query_rewrite"`
	PreviousIntent   string          `json:"previous_intent"`
	EntityUserSelect json.RawMessage `json:"entity_user_select"`
	EntityRetrieval  json.RawMessage `json:"entity_retrieval"`
}

// PostQuery dispatches a query. The answer arrives later on /events.
func (h *Handler) PostQuery(c *gin.Context) {
	var req queryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	h.captureCredentials(c)

	turn, err := h.Dispatcher.Dispatch(c.Request.Context(), app.DispatchRequest{
		SessionID: req.SessionID,
		Query:     req.Query,
		Continuation: protocol.Continuation{
			QueryRewrite:     req.QueryRewrite,
			PreviousIntent:   req.PreviousIntent,
			EntityUserSelect: req.EntityUserSelect,
			EntityRetrieval:  req.EntityRetrieval,
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, app.ErrEmptyQuery):
		common.Fail(c, http.StatusBadRequest, 10002, "query required")
		return
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
		return
	default:
		// the question is recorded locally; only delivery failed
		common.Fail(c, http.StatusBadGateway, 50202, "backend connection unavailable")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "accepted",
		"data": gin.H{
			"turn_id":    turn.ID,
			"session_id": turn.SessionID,
		},
	})
}
