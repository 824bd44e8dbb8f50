package mw

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carguard-backend/internal/store"
)

// ContextRole resolves which dashboard the caller operates on. A user with an
// ACTIVE membership acts on that owner's dashboard with the membership's
// role; everyone else is OWNER of their own.
func ContextRole(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := CurrentUserID(c)

		member, err := s.MembershipFor(c.Request.Context(), userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve context role"})
			return
		}

		if member == nil {
			c.Set(ctxContextRole, RoleOwner)
			c.Set(ctxOwnerID, userID)
		} else {
			c.Set(ctxContextRole, member.Role)
			c.Set(ctxOwnerID, member.OwnerID)
		}

		c.Next()
	}
}
