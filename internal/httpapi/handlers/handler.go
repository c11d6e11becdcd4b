package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/app"
	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
	"github.com/suPer8Hu/genbi-gateway/internal/httpapi/middleware"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
	"go.uber.org/zap"
)

// Catalog is the read-only part of the backend REST API.
type Catalog interface {
	ListOptions(ctx context.Context) (backend.Options, error)
	ListRecommendedQuestions(ctx context.Context, profile string) ([]string, error)
}

// FeedbackSink accepts user feedback, either onto a queue or straight to the backend.
type FeedbackSink interface {
	PublishFeedback(ctx context.Context, fb backend.Feedback) error
}

type Submitter interface {
	SubmitFeedback(ctx context.Context, fb backend.Feedback) error
}

// DirectFeedback is the FeedbackSink used when no queue is configured.
type DirectFeedback struct {
	Submitter Submitter
}

func (d DirectFeedback) PublishFeedback(ctx context.Context, fb backend.Feedback) error {
	return d.Submitter.SubmitFeedback(ctx, fb)
}

type Deps struct {
	App        *app.App
	Dispatcher *app.Dispatcher
	Catalog    Catalog
	Feedback   FeedbackSink
	Logger     *zap.Logger

	// PingInterval paces the SSE heartbeat; defaults to 15s.
	PingInterval time.Duration
}

type Handler struct {
	App        *app.App
	Dispatcher *app.Dispatcher
	Catalog    Catalog
	Feedback   FeedbackSink
	Logger     *zap.Logger

	pingInterval time.Duration
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ping := d.PingInterval
	if ping <= 0 {
		ping = 15 * time.Second
	}
	return &Handler{
		App:          d.App,
		Dispatcher:   d.Dispatcher,
		Catalog:      d.Catalog,
		Feedback:     d.Feedback,
		Logger:       logger,
		pingInterval: ping,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// captureCredentials picks up upstream tokens from the request. Explicit
// X-*-Token headers win; otherwise the gateway's own bearer token is passed on.
func (h *Handler) captureCredentials(c *gin.Context) {
	creds := protocol.Credentials{
		AccessToken:  strings.TrimSpace(c.GetHeader("X-Access-Token")),
		IDToken:      strings.TrimSpace(c.GetHeader("X-Id-Token")),
		RefreshToken: strings.TrimSpace(c.GetHeader("X-Refresh-Token")),
	}
	if creds.AccessToken == "" {
		creds.AccessToken = c.GetString(middleware.TokenKey)
	}
	if creds == (protocol.Credentials{}) {
		return
	}
	h.App.SetCredentials(creds)
}

// backendError writes the envelope for a failed REST call.
func (h *Handler) backendError(c *gin.Context, op string, err error) {
	if errors.Is(err, backend.ErrUnauthorized) {
		common.Fail(c, http.StatusUnauthorized, 40103, "backend rejected credentials")
		return
	}
	h.Logger.Warn("backend call failed",
		zap.String("op", op),
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.Error(err),
	)
	common.Fail(c, http.StatusBadGateway, 50201, op+" failed")
}
