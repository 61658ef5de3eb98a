package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	"github.com/smallbiznis/opsledger/internal/money"
)

type submitExpenseRequest struct {
	Description       string      `json:"description"`
	Amount            money.Money `json:"amount"`
	Category          string      `json:"category"`
	Date              string      `json:"date"`
	Type              string      `json:"type"`
	DeductFromCustody bool        `json:"deduct_from_custody"`
}

type rejectExpenseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) SubmitExpense(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var req submitExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	expense, err := s.expenseSvc.Submit(c.Request.Context(), actor, expensedomain.SubmitRequest{
		Description:       strings.TrimSpace(req.Description),
		Amount:            req.Amount,
		Category:          strings.TrimSpace(req.Category),
		Date:              date,
		Type:              expensedomain.Type(strings.ToLower(strings.TrimSpace(req.Type))),
		DeductFromCustody: req.DeductFromCustody,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": expense})
}

func (s *Server) ApproveExpense(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	expense, err := s.expenseSvc.Approve(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": expense})
}

func (s *Server) RejectExpense(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rejectExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	expense, err := s.expenseSvc.Reject(c.Request.Context(), actor, id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": expense})
}

func (s *Server) DeleteExpense(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.expenseSvc.Delete(c.Request.Context(), actor, id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetExpense(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	expense, err := s.expenseSvc.Get(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": expense})
}

func (s *Server) ListExpenses(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	req, ok := expenseListRequest(c)
	if !ok {
		return
	}
	expenses, err := s.expenseSvc.List(c.Request.Context(), actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": expenses})
}

func (s *Server) ExpenseTotals(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	req, ok := expenseListRequest(c)
	if !ok {
		return
	}
	totals, err := s.expenseSvc.Totals(c.Request.Context(), actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": totals})
}

func expenseListRequest(c *gin.Context) (expensedomain.ListRequest, bool) {
	ownerID, ok := queryID(c, "owner_id")
	if !ok {
		return expensedomain.ListRequest{}, false
	}
	from, ok := queryTime(c, "from", false)
	if !ok {
		return expensedomain.ListRequest{}, false
	}
	to, ok := queryTime(c, "to", true)
	if !ok {
		return expensedomain.ListRequest{}, false
	}
	return expensedomain.ListRequest{
		OwnerID:  ownerID,
		Status:   expensedomain.Status(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		Type:     expensedomain.Type(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		Category: strings.TrimSpace(c.Query("category")),
		From:     from,
		To:       to,
	}, true
}
