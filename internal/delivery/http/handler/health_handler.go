package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"geomonitor/internal/ingestion"
	"geomonitor/internal/logger"
	"geomonitor/internal/middleware"
)

// Pinger is satisfied by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type detectorStatus interface {
	Mode() string
}

type subscriberCounter interface {
	SubscriberCount() int
}

type ingestStatus interface {
	Stats() ingestion.IngestStats
}

type connectionStatus interface {
	Connected() bool
}

type HealthHandler struct {
	backend  Pinger
	detector detectorStatus
	broker   subscriberCounter
	ingest   ingestStatus
	mqtt     connectionStatus
	storage  string
}

func NewHealthHandler(backend Pinger, storage string, detector detectorStatus, broker subscriberCounter) *HealthHandler {
	return &HealthHandler{
		backend:  backend,
		detector: detector,
		broker:   broker,
		storage:  storage,
	}
}

// WithIngest adds queued ingestion counters to the health report.
func (h *HealthHandler) WithIngest(ingest ingestStatus) *HealthHandler {
	h.ingest = ingest
	return h
}

// WithMQTT adds the broker connection state to the health report.
func (h *HealthHandler) WithMQTT(mqtt connectionStatus) *HealthHandler {
	h.mqtt = mqtt
	return h
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.backend.Ping(ctx); err != nil {
		requestLogger(c).Warn("Health check failed", zap.String("storage", h.storage), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "Storage backend unavailable",
			"storage": h.storage,
		})
		return
	}

	body := gin.H{
		"status":      "healthy",
		"message":     "Service is running",
		"storage":     h.storage,
		"detector":    h.detector.Mode(),
		"subscribers": h.broker.SubscriberCount(),
	}
	if h.ingest != nil {
		body["ingest"] = h.ingest.Stats()
	}
	if h.mqtt != nil {
		body["mqtt_connected"] = h.mqtt.Connected()
	}
	c.JSON(http.StatusOK, body)
}

func requestLogger(c *gin.Context) *zap.Logger {
	return logger.WithRequestID(middleware.GetRequestID(c))
}
