// Package api wires the HTTP surfaces: the WebSocket gateway with its
// health endpoint, and the static file service for generated audio and
// emotion images. The two surfaces are registered on separate echo
// instances and share no state.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/huohuo-app/voice-gateway/internal/storage"
	"github.com/huohuo-app/voice-gateway/internal/websocket"
)

// InitGatewayRoutes registers the WebSocket endpoint and its health check.
func InitGatewayRoutes(e *echo.Echo, hub *websocket.Hub, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: "voice-gateway",
			Clients: hub.ClientCount(),
		})
	})

	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(hub, c, logger)
	})
}

// InitFileRoutes registers the static audio and emotion image endpoints.
func InitFileRoutes(e *echo.Echo, store *storage.FileStore, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: "voice-gateway-files",
		})
	})

	e.GET("/api/audio/:filename", func(c echo.Context) error {
		return serveAudio(c, store, logger)
	})

	e.GET("/api/emotion/:filename", func(c echo.Context) error {
		return serveEmotionImage(c, store, logger)
	})
}

func serveAudio(c echo.Context, store *storage.FileStore, logger *zap.Logger) error {
	filename := c.Param("filename")

	path, ok := store.LookupAudio(filename)
	if !ok {
		logger.Warn("Audio file not found", zap.String("filename", filename))
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Audio file not found",
		})
	}

	return c.File(path)
}

func serveEmotionImage(c echo.Context, store *storage.FileStore, logger *zap.Logger) error {
	filename := c.Param("filename")

	path, ok := store.LookupEmotionImage(filename)
	if !ok {
		logger.Warn("Emotion image not found", zap.String("filename", filename))
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Emotion image not found",
		})
	}

	return c.File(path)
}
