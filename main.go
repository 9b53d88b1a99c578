package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/config"
	"marketplace-chat/internal/db"
	"marketplace-chat/internal/handlers"
	"marketplace-chat/internal/middleware"
	"marketplace-chat/internal/moderation"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/rabbitmq"
	"marketplace-chat/internal/repositories"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/telemetry"
	"marketplace-chat/internal/ws"
)

const serviceName = "marketplace-chat"

func main() {
	cfg := config.Load()

	shutdownTracing, err := telemetry.InitTracing(context.Background(), serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	var store storage.Store
	if cfg.CloudinaryURL != "" {
		cloudStore, err := storage.NewCloudinaryStore(cfg.CloudinaryURL)
		if err != nil {
			log.Fatalf("failed to init attachment store: %v", err)
		}
		store = cloudStore
	} else {
		log.Printf("attachment storage disabled: CLOUDINARY_URL not set")
		store = storage.NewDisabledStore()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	audit := telemetry.NewAuditEmitter(publisher, "chat.audit", serviceName, cfg.Environment)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	filter := moderation.NewFilter(cfg.BannedTerms)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	registry := ws.NewRegistry()

	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo, store, hub, audit)
	wsHandler := ws.NewHandler(hub, registry, verifier, conversationRepo, messageRepo, store, filter, publisher, audit)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(verifier)

	api := router.Group("/api")
	api.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	api.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetConversationMessages)
	api.DELETE("/messages/:message_id", authMiddleware, conversationHandler.DeleteMessage)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.Debug)

	log.Printf("chat service listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
