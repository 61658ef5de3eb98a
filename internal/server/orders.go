package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/opsledger/internal/money"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
)

type cancelOrderRequest struct {
	Reason    string      `json:"reason"`
	Fee       money.Money `json:"fee"`
	FeeBearer string      `json:"fee_bearer"`
}

func (s *Server) GetOrder(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := s.orderSvc.Get(c.Request.Context(), actor, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) LockOrder(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := s.orderSvc.Lock(c.Request.Context(), actor, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CancelOrder(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	result, err := s.orderSvc.Cancel(c.Request.Context(), actor, orderID, orderdomain.CancelRequest{
		Reason:    req.Reason,
		Fee:       req.Fee,
		FeeBearer: orderdomain.FeeBearer(strings.ToLower(strings.TrimSpace(req.FeeBearer))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
