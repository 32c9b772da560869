package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDKey = "userID"

// requireUser resolves the Authorization bearer token to a user id and
// stores it on the request context.
func (h *Handler) requireUser(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		writeError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	c.Set(userIDKey, userID)
	c.Next()
}

// rateLimited caps chat turns per user. A limiter failure is logged and the
// request is let through; throttling is best-effort, chat is not.
func (h *Handler) rateLimited(c *gin.Context) {
	if h.limiter == nil {
		c.Next()
		return
	}

	allowed, err := h.limiter.Allow(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.logger.Warn("rate limiter unavailable", zap.Error(err))
		c.Next()
		return
	}

	if !allowed {
		writeError(c, http.StatusTooManyRequests, "rate_limited", "too many messages, slow down")
		return
	}

	c.Next()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
