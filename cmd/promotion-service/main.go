package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mostralo/promotion-service/internal/api"
	"github.com/mostralo/promotion-service/pkg/db"
)

func main() {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := db.LoadPostgresConfig()

	conn, err := db.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer conn.Close()

	handler := api.NewRouter(conn, log)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("HTTP server shutdown", zap.Error(err))
		}
		close(idleConnsClosed)
	}()

	log.Info("starting promotion-service", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("listen", zap.Error(err))
	}

	<-idleConnsClosed
	log.Info("server stopped")
}
