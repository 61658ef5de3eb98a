package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/opsledger/internal/money"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
)

type openPayableRequest struct {
	SupplierID   snowflake.ID `json:"supplier_id"`
	SupplierName string       `json:"supplier_name"`
	OrderRef     string       `json:"order_ref"`
	Description  string       `json:"description"`
	Amount       money.Money  `json:"amount"`
}

type payPayableRequest struct {
	PayerAccountID snowflake.ID `json:"payer_account_id"`
	Amount         money.Money  `json:"amount"`
	Notes          string       `json:"notes"`
}

func (s *Server) OpenPayable(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var req openPayableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	entry, err := s.payableSvc.Open(c.Request.Context(), actor, payabledomain.OpenRequest{
		SupplierID:   req.SupplierID,
		SupplierName: strings.TrimSpace(req.SupplierName),
		OrderRef:     strings.TrimSpace(req.OrderRef),
		Description:  strings.TrimSpace(req.Description),
		Amount:       req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": entry})
}

func (s *Server) OpenPayablesForOrder(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := s.payableSvc.OpenForOrder(c.Request.Context(), actor, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) PayPayable(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	entryID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req payPayableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	payment, err := s.payableSvc.Pay(c.Request.Context(), actor, payabledomain.PayRequest{
		EntryID:        entryID,
		PayerAccountID: req.PayerAccountID,
		Amount:         req.Amount,
		Notes:          strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

func (s *Server) DeletePayable(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	entryID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.payableSvc.Delete(c.Request.Context(), actor, entryID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetPayable(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	entryID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entry, err := s.payableSvc.Get(c.Request.Context(), actor, entryID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) ListPayables(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	supplierID, ok := queryID(c, "supplier_id")
	if !ok {
		return
	}
	outstanding, err := parseOptionalBool(c.Query("outstanding"))
	if err != nil {
		AbortWithError(c, newValidationError("outstanding", "invalid_outstanding", "invalid outstanding"))
		return
	}

	filter := payabledomain.ListFilter{
		SupplierID: supplierID,
		OrderRef:   strings.TrimSpace(c.Query("order_ref")),
	}
	if outstanding != nil {
		filter.OutstandingOnly = *outstanding
	}
	entries, err := s.payableSvc.List(c.Request.Context(), actor, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) ListPayablePayments(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	entryID, ok := pathID(c, "id")
	if !ok {
		return
	}
	payments, err := s.payableSvc.ListPayments(c.Request.Context(), actor, entryID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) SupplierTotals(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	totals, err := s.payableSvc.SupplierTotals(c.Request.Context(), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": totals})
}
