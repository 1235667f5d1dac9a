package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"geomonitor/internal/metrics"
	"geomonitor/internal/stream"
	"geomonitor/pkg/utils"
)

const (
	updateEvent = "update"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type StreamHandler struct {
	broker         *stream.Broker
	retryMillis    uint
	allowedOrigins []string
}

func NewStreamHandler(broker *stream.Broker, retryMillis uint, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		broker:         broker,
		retryMillis:    retryMillis,
		allowedOrigins: allowedOrigins,
	}
}

func (h *StreamHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/stream", h.Events)
	router.GET("/ws", h.WebSocket)
}

// Events pushes every snapshot as an SSE "update" event. The first event
// carries the reconnect hint.
func (h *StreamHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	log := requestLogger(c)

	sub, err := h.broker.Subscribe(ctx, metrics.TransportSSE)
	if err != nil {
		log.Error("Stream subscription failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	defer h.broker.Unsubscribe(sub)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	retry := h.retryMillis
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case update := <-sub.Updates():
			event := sse.Event{
				Event: updateEvent,
				Retry: retry,
				Data:  string(update.Payload),
			}
			if err := sse.Encode(c.Writer, event); err != nil {
				log.Debug("SSE subscriber write failed", zap.Error(err))
				return
			}
			c.Writer.Flush()
			retry = 0
		}
	}
}

func (h *StreamHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin accepts non-browser clients and origins allowed by CORS.
func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// WebSocket pushes snapshots as {"type":"update","data":[...]} messages.
func (h *StreamHandler) WebSocket(c *gin.Context) {
	log := requestLogger(c)

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// The request context ends when this handler returns; the pumps outlive it.
	sub, err := h.broker.Subscribe(c.Request.Context(), metrics.TransportWebSocket)
	if err != nil {
		log.Error("Stream subscription failed", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(conn, sub, log)
	go h.readPump(conn, sub, log)
}

// readPump discards client messages and unsubscribes once the peer goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, sub *stream.Subscriber, log *zap.Logger) {
	defer func() {
		h.broker.Unsubscribe(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, sub *stream.Subscriber, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case update := <-sub.Updates():
			msg, err := json.Marshal(wsMessage{Type: updateEvent, Data: update.Payload})
			if err != nil {
				log.Error("Failed to encode WebSocket message", zap.Error(err))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("WebSocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
