package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/platewise/platewise/internal/billingcontext"
)

// Identity headers set by the authenticating edge in front of this
// service. Billable requests without them are rejected.
const (
	HeaderActorUserID    = "X-Actor-User-Id"
	HeaderBillingOwnerID = "X-Billing-Owner-Id"
	HeaderAccountMode    = "X-Account-Mode"
)

func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActorUserID))
		owner := strings.TrimSpace(c.GetHeader(HeaderBillingOwnerID))
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if owner == "" {
			// Solo accounts bill to themselves.
			owner = actor
		}

		ctx := billingcontext.WithIdentity(c.Request.Context(), billingcontext.Identity{
			ActorUserID:    actor,
			BillingOwnerID: owner,
			AccountMode:    c.GetHeader(HeaderAccountMode),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
