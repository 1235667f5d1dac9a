package handler

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/metrics"
	"geomonitor/internal/usecase/location"
	appErrors "geomonitor/pkg/errors"
	"geomonitor/pkg/utils"
)

const maxFormMemory = 1 << 20

type LocationHandler struct {
	service    *location.Service
	aggregator *location.Aggregator
	history    *location.HistoryQuery
}

func NewLocationHandler(service *location.Service, aggregator *location.Aggregator, history *location.HistoryQuery) *LocationHandler {
	return &LocationHandler{
		service:    service,
		aggregator: aggregator,
		history:    history,
	}
}

func (h *LocationHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/locations", h.Ingest)
	router.GET("/locations", h.Snapshot)
	router.GET("/history", h.History)
	router.GET("/devices/:id/history", h.History)
}

// Ingest accepts one position report as form fields or a JSON object. A
// body without form fields is read as JSON whatever its content type.
func (h *LocationHandler) Ingest(c *gin.Context) {
	fields, err := ingestFields(c)
	if err != nil {
		requestLogger(c).Warn("Unreadable ingestion body", zap.Error(err))
		metrics.IngestTotal.WithLabelValues(metrics.SourceHTTP, metrics.IngestInvalid).Inc()
		utils.ErrorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput.Error())
		return
	}

	record, err := h.service.Ingest(c.Request.Context(), metrics.SourceHTTP, fields)
	if err != nil {
		respondIngestError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, record)
}

func ingestFields(c *gin.Context) (location.IngestFields, error) {
	if c.ContentType() == binding.MIMEJSON {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		return location.FieldsFromJSON(body), nil
	}

	if err := c.Request.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}
	if len(c.Request.PostForm) > 0 {
		return location.FieldsFromForm(c.Request.PostForm), nil
	}

	// No form fields: devices that omit the JSON content type still send JSON.
	body, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return location.IngestFields{}, nil
	}
	return location.FieldsFromJSON(body), nil
}

func respondIngestError(c *gin.Context, err error) {
	var appErr *appErrors.AppError
	if !errors.As(err, &appErr) {
		utils.ErrorResponse(c, http.StatusInternalServerError, "no write")
		return
	}
	switch appErr.Code {
	case appErrors.CodeInvalidInput:
		utils.ErrorResponse(c, http.StatusBadRequest, appErr.Message)
	default:
		utils.ErrorResponse(c, http.StatusInternalServerError, appErr.Message)
	}
}

// Snapshot returns every device view as a bare JSON array.
func (h *LocationHandler) Snapshot(c *gin.Context) {
	views, err := h.aggregator.Snapshot(c.Request.Context())
	if err != nil {
		requestLogger(c).Error("Failed to build snapshot", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "snapshot unavailable")
		return
	}
	c.JSON(http.StatusOK, views)
}

// History serves /devices/:id/history and /history?user=.
func (h *LocationHandler) History(c *gin.Context) {
	raw := c.Param("id")
	if raw == "" {
		raw = c.Query("user")
	}
	if raw == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "missing user")
		return
	}

	id := domain.SanitizeDeviceID(raw)
	result, err := h.history.Query(c.Request.Context(), id, c.Query("from"), c.Query("to"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "user not found")
			return
		}
		requestLogger(c).Error("History query failed",
			zap.String("device_id", id.String()),
			zap.Error(err),
		)
		utils.ErrorResponse(c, http.StatusInternalServerError, "history unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  utils.StatusOK,
		"user_id": result.DeviceID,
		"from":    result.From,
		"to":      result.To,
		"history": result.History,
	})
}
