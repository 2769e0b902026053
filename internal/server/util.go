package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeBasePath turns " api/ " into "/api"; "" and "/" mount at the root.
func normalizeBasePath(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// ErrorResponse is the body of every non-2xx reply. Error is a stable
// snake_case code; Message is for humans.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}
