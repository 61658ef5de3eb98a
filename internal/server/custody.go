package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	custodydomain "github.com/smallbiznis/opsledger/internal/custody/domain"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	"github.com/smallbiznis/opsledger/internal/money"
)

type issueCustodyRequest struct {
	AccountID snowflake.ID `json:"account_id"`
	Amount    money.Money  `json:"amount"`
	Reason    string       `json:"reason"`
	Date      string       `json:"date"`
}

type spendCustodyRequest struct {
	AccountID   snowflake.ID `json:"account_id"`
	Amount      money.Money  `json:"amount"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	Type        string       `json:"type"`
	Date        string       `json:"date"`
}

func (s *Server) IssueCustody(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var req issueCustodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	txn, err := s.custodySvc.Issue(c.Request.Context(), actor, custodydomain.IssueRequest{
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
		Date:      date,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": txn})
}

func (s *Server) AcknowledgeCustody(c *gin.Context) {
	s.decide(c, s.custodySvc.Acknowledge)
}

func (s *Server) DeclineCustody(c *gin.Context) {
	s.decide(c, s.custodySvc.Decline)
}

func (s *Server) SpendFromCustody(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var req spendCustodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	accountID := req.AccountID
	if accountID == 0 {
		accountID = actor.ID
	}
	result, err := s.custodySvc.SpendFromCustody(c.Request.Context(), actor, custodydomain.SpendRequest{
		AccountID:   accountID,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		Type:        expensedomain.Type(strings.ToLower(strings.TrimSpace(req.Type))),
		Date:        date,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) CustodySummary(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	summary, err := s.custodySvc.Summary(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}
