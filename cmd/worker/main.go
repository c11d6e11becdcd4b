package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"github.com/suPer8Hu/genbi-gateway/internal/config"
	"github.com/suPer8Hu/genbi-gateway/internal/logging"
	"github.com/suPer8Hu/genbi-gateway/internal/protocol"
	"github.com/suPer8Hu/genbi-gateway/internal/store/rabbitmq"
	"go.uber.org/zap"
)

const maxFeedbackRetries = 5

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.RabbitURL == "" {
		logger.Fatal("RABBIT_URL is required for the feedback worker")
	}

	client := backend.NewClient(cfg.BackendURL)
	if tok := cfg.BackendAccessToken; tok != "" {
		client.Creds = func() protocol.Credentials {
			return protocol.Credentials{AccessToken: tok}
		}
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.Declare(ch, cfg.RabbitQueue); err != nil {
		logger.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume", zap.Error(err))
	}

	// retries go out on their own channel; the consuming one is busy acking
	pubCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit publish channel", zap.Error(err))
	}
	defer pubCh.Close()
	retrier := rabbitmq.NewPublisherOnChannel(pubCh, cfg.RabbitQueue)

	handler := &rabbitmq.FeedbackHandler{
		Submit:     client,
		MaxRetries: maxFeedbackRetries,
		Logger:     logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency),
	)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := logger.With(zap.Int("worker", workerID))
			for d := range jobs {
				settle(ctx, wlog, handler, retrier, d)
			}
		}(i)
	}

	// dispatcher
	err = dispatch(ctx, msgs, jobs)
	close(jobs)
	wg.Wait()
	if err != nil {
		// a supervisor restarts the worker with a fresh connection
		logger.Error("worker stopping", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("worker shut down")
}

var errDeliveriesClosed = errors.New("delivery channel closed")

// dispatch feeds deliveries to the pool until ctx is done. It returns
// errDeliveriesClosed when the broker drops the consumer.
func dispatch(ctx context.Context, msgs <-chan amqp.Delivery, jobs chan<- amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case d, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func settle(ctx context.Context, logger *zap.Logger, h *rabbitmq.FeedbackHandler, retrier *rabbitmq.Publisher, d amqp.Delivery) {
	attempt := rabbitmq.Attempt(d.Headers)

	switch h.Handle(ctx, d.Body, attempt) {
	case rabbitmq.Ack:
		if err := d.Ack(false); err != nil {
			logger.Warn("ack failed", zap.Error(err))
		}
	case rabbitmq.Retry:
		delay := rabbitmq.RetryDelay(attempt)
		if err := retrier.Retry(ctx, d.Body, attempt+1, delay); err != nil {
			logger.Warn("retry publish failed, dead-lettering", zap.Error(err))
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
	default:
		_ = d.Nack(false, false)
	}
}
