package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"presence-service/internal/api/routes"
	"presence-service/internal/config"
	"presence-service/internal/database"
	"presence-service/internal/services"
	"presence-service/internal/websocket"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting presence server")

	// Redis presence mirror is optional; the hub keeps working without it
	var presence websocket.PresenceStore
	if cfg.Redis.URL != "" {
		redisClient, err := database.NewRedisConnection(cfg.Redis.URL)
		if err != nil {
			slog.Warn("Redis unavailable, presence mirroring disabled", "error", err)
		} else {
			defer redisClient.Close()
			presence = services.NewRedisService(redisClient)
		}
	}

	// Kafka sink feeds the external message-persistence consumer; optional
	var sink websocket.MessageSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaService := services.NewKafkaService(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaService.Close()
		sink = kafkaService
	}

	hub := websocket.NewHub(presence, sink, websocket.HubConfig{
		RecoveryWindow: cfg.Hub.RecoveryWindow,
		TypingCooldown: cfg.Hub.TypingCooldown,
		TypingExpiry:   cfg.Hub.TypingExpiry,
	})
	go hub.Run()

	router := routes.NewRouter(hub, cfg.Server.AllowedOrigins)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}
