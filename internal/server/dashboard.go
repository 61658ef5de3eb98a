package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/opsledger/internal/period"
)

func (s *Server) Dashboard(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var query struct {
		Period string `form:"period"`
		Start  string `form:"start"`
		End    string `form:"end"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dashboard, err := s.rollupSvc.Dashboard(c.Request.Context(), actor, period.Request{
		Kind:        query.Period,
		CustomStart: query.Start,
		CustomEnd:   query.End,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dashboard})
}
