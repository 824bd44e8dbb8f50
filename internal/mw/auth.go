package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the auth and context-role middleware.
const (
	ctxUserID      = "userID"
	ctxOwnerID     = "dashboardOwnerID"
	ctxContextRole = "contextRole"
)

// Dashboard context roles.
const (
	RoleOwner = "OWNER"
)

// Auth validates the bearer token and stores the caller's user id on the
// request context. Token issuance is out of scope; only verification happens
// here.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}

		userID, ok := parseUserID(token, secret)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}

		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Websocket clients cannot set headers from the browser; accept the
	// token as a query parameter there.
	return c.Query("token")
}

func parseUserID(tokenString, secret string) (int64, bool) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false
	}
	id, ok := claims["id"].(float64)
	if !ok {
		return 0, false
	}
	return int64(id), true
}

// CurrentUserID returns the authenticated caller's user id.
func CurrentUserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// DashboardOwnerID returns the owner whose dashboard the caller operates on.
func DashboardOwnerID(c *gin.Context) int64 {
	return c.GetInt64(ctxOwnerID)
}

// ContextRoleOf returns the caller's role on that dashboard.
func ContextRoleOf(c *gin.Context) string {
	return c.GetString(ctxContextRole)
}
