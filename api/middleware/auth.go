package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APITokenMiddleware - проверка токена локального API.
// Поддерживает два варианта:
// 1. X-Api-Token заголовок
// 2. Authorization: Bearer <token>
// Пустой токен в конфиге отключает проверку.
func APITokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Api-Token")
		if provided == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				provided = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		// браузерный WebSocket не умеет ставить заголовки
		if provided == "" {
			provided = c.Query("token")
		}

		if provided == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required: provide X-Api-Token header or Authorization Bearer token"})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
