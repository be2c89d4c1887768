package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mealpass/token-service/internal/api"
	"github.com/mealpass/token-service/internal/api/middleware"
	"github.com/mealpass/token-service/internal/events"
	"github.com/mealpass/token-service/pkg/db"
)

func main() {
	// load DB config from env
	cfg, _ := db.LoadPostgresConfig()

	conn, err := db.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer conn.Close()

	// event publisher: AMQP when configured, noop otherwise
	var publisher events.Publisher = events.Noop{}
	if amqpCfg := events.LoadRabbitMQConfig(); amqpCfg.Host != "" {
		rmq, err := events.NewRabbitMQ(amqpCfg)
		if err != nil {
			log.Fatalf("amqp connect: %v", err)
		}
		defer rmq.Close()
		publisher = rmq
	}

	enforceDeadline := db.Getenv("SKIP_DEADLINE_ENFORCED", "true") != "false"

	handler, engine := api.NewRouter(conn, publisher, enforceDeadline)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Mount("/", handler)

	addr := db.Getenv("LISTEN_ADDR", ":8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// periodic sweep moving elapsed PENDING tokens to EXPIRED
	sweepInterval := 5 * time.Minute
	if v := os.Getenv("EXPIRY_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sweepInterval = d
		}
	}
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n, err := engine.ExpireElapsed(rootCtx, time.Now().UTC())
				if err != nil {
					log.Printf("expiry sweep: %v", err)
				} else if n > 0 {
					log.Printf("expiry sweep: expired %d tokens", n)
				}
			}
		}
	}()

	// graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		// we received an interrupt signal, shut down.
		stop()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	log.Printf("starting token-service on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen: %s\n", err)
	}

	<-idleConnsClosed
	log.Println("server stopped")
}
