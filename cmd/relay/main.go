package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"whatsapp-relay/internal/api"
	"whatsapp-relay/internal/bridge"
	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/hub"
	"whatsapp-relay/internal/media"
	"whatsapp-relay/internal/message"
	"whatsapp-relay/internal/provider"
	"whatsapp-relay/internal/queue"
	"whatsapp-relay/internal/reminder"
	"whatsapp-relay/internal/repo"
	"whatsapp-relay/internal/scheduler"
	"whatsapp-relay/internal/wallet"
	"whatsapp-relay/internal/webhook"
)

const webhookQueueKey = "relay:webhooks"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("loading config failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("relay exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	liveHub := hub.New()
	publisher := bridge.NewPublisher(rdb, bridge.DefaultChannel)
	subscriber := bridge.NewSubscriber(rdb, bridge.DefaultChannel, liveHub)

	mediaStore, err := media.NewStore(cfg.Media.Dir)
	if err != nil {
		return err
	}
	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout)

	ledger := wallet.NewService(wallet.NewPostgresStore(db), 10*time.Second)

	msgSvc := message.NewService(message.Deps{
		Messages:      repo.NewPostgresMessageStore(db),
		Contacts:      repo.NewPostgresContactStore(db),
		Conversations: repo.NewPostgresConversationStore(db),
		Users:         repo.NewPostgresUserStore(db),
		Ledger:        ledger,
		Bus:           publisher,
		Fetcher:       providerClient,
		Media:         mediaStore,
		Sender:        providerClient,
		MessagePrice:  cfg.Billing.MessagePrice,
	})

	records := repo.NewPostgresWebhookRecordStore(db)
	processor := webhook.NewProcessor(records, msgSvc)
	jobs := queue.New(rdb, webhookQueueKey, queue.Options{
		Concurrency: cfg.Queue.Concurrency,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
	})

	reminders := reminder.NewService(repo.NewPostgresReminderStore(db), msgSvc)
	sched, err := scheduler.New("reminders", cfg.Scheduler.Interval, reminders.Sweep)
	if err != nil {
		return err
	}

	go func() {
		if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event bridge subscriber stopped", "err", err)
		}
	}()
	go jobs.Run(ctx, processor.Handle)
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(api.NewHandler(sched, records, jobs, liveHub))),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay listening",
			"addr", cfg.Server.Address,
			"queue_concurrency", cfg.Queue.Concurrency,
			"sched_interval", cfg.Scheduler.Interval.String(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
