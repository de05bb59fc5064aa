package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserEmailKey is the context key holding the authenticated email
const UserEmailKey = "user_email"

// Claims are the claims of a client access token
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Auth validates the HS256 bearer token issued by the app backend
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			response.ErrorJSON(c, http.StatusUnauthorized, "Missing or invalid Authorization header")
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			logging.Warnf("Auth failed: %v", err)
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid token")
			c.Abort()
			return
		}

		email := claims.Email
		if email == "" {
			email = claims.Subject
		}
		if email == "" {
			response.ErrorJSON(c, http.StatusUnauthorized, "Token has no email")
			c.Abort()
			return
		}

		c.Set(UserEmailKey, email)
		c.Next()
	}
}

// UserEmail returns the email set by Auth
func UserEmail(c *gin.Context) string {
	return c.GetString(UserEmailKey)
}
