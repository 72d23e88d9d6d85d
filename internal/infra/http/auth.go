package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const adminKeyHeader = "X-Admin-Key"

// requireAdmin checks the admin key header. Without a configured key every
// admin request is refused.
func (s *Server) requireAdmin(c *gin.Context) bool {
	key := strings.TrimSpace(c.GetHeader(adminKeyHeader))
	if s.adminAPIKey == "" || key == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}
