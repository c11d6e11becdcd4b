package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
	"go.uber.org/zap"
)

func (h *Handler) GetConfig(c *gin.Context) {
	common.OK(c, h.App.Settings.Current())
}

// PutConfig merges the posted fields over the current config.
func (h *Handler) PutConfig(c *gin.Context) {
	cfg := h.App.Settings.Current()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	applied, err := h.App.Settings.Update(c.Request.Context(), cfg)
	if err != nil {
		// applied for this process, just not persisted
		h.Logger.Warn("persist query config failed", zap.Error(err))
	}
	common.OK(c, applied)
}
