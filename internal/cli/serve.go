package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/genbi-gateway/internal/httpapi"
	"github.com/suPer8Hu/genbi-gateway/internal/httpapi/handlers"
	"github.com/suPer8Hu/genbi-gateway/internal/store/rabbitmq"
	"go.uber.org/zap"
)

func newServeCmd(rt *runtime) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg
			logger := rt.logger
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, err := wire(ctx, cfg, logger, wireOptions{persist: true})
			if err != nil {
				return err
			}
			defer g.Close()

			var sink handlers.FeedbackSink = handlers.DirectFeedback{Submitter: g.client}
			if cfg.RabbitURL != "" {
				pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
				if err != nil {
					logger.Warn("rabbitmq unavailable, feedback goes straight to the backend", zap.Error(err))
				} else {
					defer pub.Close()
					sink = pub
				}
			}

			h := handlers.NewHandler(handlers.Deps{
				App:        g.app,
				Dispatcher: g.dispatcher,
				Catalog:    g.client,
				Feedback:   sink,
				Logger:     logger.Named("http"),
			})
			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           httpapi.NewRouter(h, cfg.JWTSecret, logger.Named("http")),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				if err := g.conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("upstream connection stopped", zap.Error(err))
				}
			}()

			go func() {
				if _, err := g.app.SyncSessions(ctx); err != nil {
					logger.Warn("initial session sync failed", zap.Error(err))
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("gateway listening", zap.String("addr", cfg.HTTPAddr), zap.String("backend", cfg.BackendWSURL))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	return cmd
}
