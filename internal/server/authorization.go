package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/opsledger/internal/principal"
)

func (s *Server) actorFromContext(c *gin.Context) (principal.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return principal.Principal{}, false
	}
	actor, ok := value.(principal.Principal)
	if !ok || !actor.Valid() {
		return principal.Principal{}, false
	}
	return actor, true
}

// requireActor aborts with 401 when no principal was resolved.
func (s *Server) requireActor(c *gin.Context) (principal.Principal, bool) {
	actor, ok := s.actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return principal.Principal{}, false
	}
	return actor, true
}

// authorize is for reads that have no service-level check of their own.
func (s *Server) authorize(c *gin.Context, actor principal.Principal, object, action string) bool {
	if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
		AbortWithError(c, err)
		return false
	}
	return true
}
