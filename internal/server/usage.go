package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/platewise/platewise/internal/billingcontext"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
)

func (s *Server) EmitUsage(c *gin.Context) {
	var req usagedomain.EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if service := strings.TrimSpace(req.Service); service != "" {
		c.Set("usage_service", service)
	}

	event, err := s.usageSvc.Emit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

func (s *Server) ListUsage(c *gin.Context) {
	identity, ok := billingcontext.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	events, err := s.usageSvc.Query(c.Request.Context(), usagedomain.QueryRequest{
		BillingOwnerID: identity.BillingOwnerID,
		Provider:       parseProvider(c.Query("provider")),
		Limit:          limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
