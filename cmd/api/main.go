package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/komemarche-backend/internal/clock"
	"github.com/shinyyama/komemarche-backend/internal/config"
	"github.com/shinyyama/komemarche-backend/internal/db"
	"github.com/shinyyama/komemarche-backend/internal/jobs"
	appmw "github.com/shinyyama/komemarche-backend/internal/middleware"
	"github.com/shinyyama/komemarche-backend/internal/notify"
	"github.com/shinyyama/komemarche-backend/internal/payment"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"github.com/shinyyama/komemarche-backend/internal/server"
)

var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := clock.MustLocation(cfg.Reservation.Timezone)
	clk := clock.New(loc)
	sched := schedule.New(loc, cfg.Reservation.Cutoff, cfg.Reservation.CancelGrace)

	conn, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		log.Printf("auto migrate error: %v", err)
	}

	deps := server.Deps{
		Config:    cfg,
		DB:        conn,
		Clock:     clk,
		Scheduler: sched,
		Publisher: notify.LogPublisher{},
		SHA:       gitSHA,
		BuildTime: buildTime,
	}

	if v, err := appmw.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); err != nil {
		log.Printf("firebase auth disabled: %v", err)
	} else {
		deps.Verifier = v
	}

	if cfg.Payment.StripeSecretKey != "" {
		deps.Payments = payment.NewStripeGateway(cfg.Payment.StripeSecretKey, cfg.Payment.StripeWebhookSecret, cfg.Payment.AppBaseURL, clk.Now)
	} else {
		log.Printf("STRIPE_SECRET_KEY not set; reservations confirm without online payment")
	}

	var amqpPub *notify.AMQPPublisher
	if cfg.Messaging.RabbitMQURL != "" {
		amqpPub = notify.NewAMQPPublisher(cfg.Messaging.RabbitMQURL)
		deps.Publisher = amqpPub
	}

	if cfg.Messaging.RedisURL != "" {
		if rdb, err := connectRedis(ctx, cfg.Messaging.RedisURL); err != nil {
			log.Printf("redis unavailable, rate limiting disabled: %v", err)
		} else {
			deps.Redis = rdb
			defer func() { _ = rdb.Close() }()
		}
	}

	srv := server.New(deps)

	runner, err := jobs.Start(srv.Reservation, time.Minute)
	if err != nil {
		log.Printf("background jobs disabled: %v", err)
	}

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	addr := ":" + port

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on %s", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := runner.Stop(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	if amqpPub != nil {
		_ = amqpPub.Close()
	}
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
