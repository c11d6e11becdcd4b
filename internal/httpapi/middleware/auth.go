package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/auth"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
)

const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
	TokenKey    = "token"
)

// AuthRequired validates the bearer JWT. With an empty secret every request
// passes, which is how a single-user local gateway runs.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		h := c.GetHeader("Authorization")
		tokenStr, found := strings.CutPrefix(h, "Bearer ")
		if !found {
			// EventSource cannot set headers
			tokenStr = c.Query("access_token")
		}
		tokenStr = strings.TrimSpace(tokenStr)
		if tokenStr == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing token")
			c.Abort()
			return
		}

		claims, err := auth.ParseJWT(tokenStr, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Set(TokenKey, tokenStr)
		c.Next()
	}
}
