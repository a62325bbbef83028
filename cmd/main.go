package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/huohuo-app/voice-gateway/adapters/asr"
	"github.com/huohuo-app/voice-gateway/adapters/llm"
	"github.com/huohuo-app/voice-gateway/adapters/tts"
	"github.com/huohuo-app/voice-gateway/internal/api"
	"github.com/huohuo-app/voice-gateway/internal/storage"
	"github.com/huohuo-app/voice-gateway/internal/websocket"
	"github.com/huohuo-app/voice-gateway/usecase"
)

func main() {
	// Load .env before anything reads the environment. A missing file is
	// fine in deployments that configure the environment directly.
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// File store backs both the upload pipeline and the static routes.
	store, err := storage.NewFileStore(storage.ConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize file store", zap.Error(err))
	}

	// Initialize adapters
	recognizer, err := asr.NewVolcengineASR(asr.ConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech recognition", zap.Error(err))
	}

	synthesizer, err := tts.NewVolcengineTTS(tts.ConfigFromEnv(), store, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech synthesis", zap.Error(err))
	}

	dialogue, err := llm.NewArkDialogue(llm.ConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize dialogue model", zap.Error(err))
	}

	// Initialize usecase services
	conversationService := usecase.NewConversationService(recognizer, synthesizer, dialogue, store, logger)

	// Initialize WebSocket hub with conversation service
	hub := websocket.NewHub(conversationService, logger)
	go hub.Run()

	// The gateway and the file service run as two independent servers
	// sharing no mutable state.
	gateway := echo.New()
	gateway.Use(middleware.Logger())
	gateway.Use(middleware.Recover())
	gateway.Use(middleware.CORS())
	api.InitGatewayRoutes(gateway, hub, logger)

	files := echo.New()
	files.Use(middleware.Logger())
	files.Use(middleware.Recover())
	files.Use(middleware.CORS())
	api.InitFileRoutes(files, store, logger)

	wsPort := os.Getenv("WS_PORT")
	if wsPort == "" {
		wsPort = "8765"
	}
	httpPort := os.Getenv("HTTP_PORT")
	if httpPort == "" {
		httpPort = "5000"
	}

	go func() {
		if err := gateway.Start(":" + wsPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the gateway server", zap.Error(err))
		}
	}()

	go func() {
		if err := files.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the file server", zap.Error(err))
		}
	}()

	logger.Info("Voice gateway started",
		zap.String("wsPort", wsPort),
		zap.String("httpPort", httpPort))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gateway.Shutdown(ctx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}
	if err := files.Shutdown(ctx); err != nil {
		logger.Error("File server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
