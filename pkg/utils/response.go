package utils

import (
	"github.com/gin-gonic/gin"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrorResponse writes the {status:"error", msg} envelope used by every endpoint.
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"status": StatusError,
		"msg":    message,
	})
}

// SuccessResponse writes {status:"ok", data}.
func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{
		"status": StatusOK,
		"data":   data,
	})
}
