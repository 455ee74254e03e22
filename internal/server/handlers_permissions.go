package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/authcore-io/authcore/internal/grant"
)

type policyDocument struct {
	Mode       string   `json:"mode"`
	Operations []string `json:"operations,omitempty"`
}

type grantDocument struct {
	PrincipalID       int64                     `json:"principal_id"`
	Handle            string                    `json:"handle"`
	Role              string                    `json:"role"`
	Teams             []string                  `json:"teams,omitempty"`
	AllServices       bool                      `json:"all_services"`
	Services          []string                  `json:"services,omitempty"`
	DeniedServices    []string                  `json:"denied_services,omitempty"`
	OperationPolicies map[string]policyDocument `json:"operation_policies,omitempty"`
	RateLimit         int                       `json:"rate_limit"`
	DailyCostLimit    float64                   `json:"daily_cost_limit"`
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handlePermissions(c *gin.Context) {
	principalID, ok := principalIDParam(c)
	if !ok {
		return
	}

	g, err := s.opts.Resolver.Resolve(c.Request.Context(), principalID)
	if err != nil {
		writeResolveFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, grantToDocument(g))
}

func (s *Server) handlePermissionCheck(c *gin.Context) {
	principalID, ok := principalIDParam(c)
	if !ok {
		return
	}
	service := c.Param("service")
	operation := c.Param("operation")

	g, err := s.opts.Resolver.Resolve(c.Request.Context(), principalID)
	if err != nil {
		if errors.Is(err, grant.ErrPrincipalInactive) {
			c.JSON(http.StatusOK, checkResponse{Allowed: false, Reason: ReasonPrincipalInactive})
			return
		}
		writeResolveFailure(c, err)
		return
	}

	if err := s.opts.Filter.IsOperationAllowed(c.Request.Context(), g, service, operation); err != nil {
		c.JSON(http.StatusOK, checkResponse{Allowed: false, Reason: accessReason(err)})
		return
	}
	c.JSON(http.StatusOK, checkResponse{Allowed: true})
}

func principalIDParam(c *gin.Context) (int64, bool) {
	principalID, err := strconv.ParseInt(c.Param("principalId"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"reason": "invalid_principal_id"})
		return 0, false
	}
	return principalID, true
}

func writeResolveFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, grant.ErrPrincipalNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"reason": ReasonPrincipalNotFound})
	case errors.Is(err, grant.ErrPrincipalInactive):
		forbidden(c, ReasonPrincipalInactive)
	default:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"reason": ReasonStoreUnavailable})
	}
}

func grantToDocument(g *grant.EffectiveGrant) grantDocument {
	doc := grantDocument{
		PrincipalID:    g.PrincipalID,
		Handle:         g.Handle,
		Role:           g.RoleName,
		Teams:          g.Teams,
		AllServices:    g.AllServices,
		Services:       g.Services,
		DeniedServices: g.DeniedServices,
		RateLimit:      g.RateLimit,
		DailyCostLimit: g.DailyCostLimit,
	}
	if len(g.OperationPolicies) > 0 {
		doc.OperationPolicies = make(map[string]policyDocument, len(g.OperationPolicies))
		for service, policy := range g.OperationPolicies {
			doc.OperationPolicies[service] = policyDocument{
				Mode:       string(policy.Mode),
				Operations: policy.Operations,
			}
		}
	}
	return doc
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
