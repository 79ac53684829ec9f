package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

// basePath normalizes a mount prefix to "" or "/x[/y]" without a trailing slash.
func basePath(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
