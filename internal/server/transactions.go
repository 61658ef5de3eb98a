package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/money"
	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/pkg/db/pagination"
)

type recordTransactionRequest struct {
	AccountID       snowflake.ID `json:"account_id"`
	Amount          money.Money  `json:"amount"`
	Reason          string       `json:"reason"`
	TransactionDate string       `json:"transaction_date"`
	Override        bool         `json:"override"`
}

func (r recordTransactionRequest) toDomain() (ledgerdomain.RecordRequest, error) {
	date, err := parseDate("transaction_date", r.TransactionDate)
	if err != nil {
		return ledgerdomain.RecordRequest{}, err
	}
	return ledgerdomain.RecordRequest{
		AccountID:       r.AccountID,
		Amount:          r.Amount,
		Reason:          strings.TrimSpace(r.Reason),
		TransactionDate: date,
		Override:        r.Override,
	}, nil
}

func (s *Server) RecordCredit(c *gin.Context) {
	s.record(c, s.ledgerSvc.RecordCredit)
}

func (s *Server) RecordDebit(c *gin.Context) {
	s.record(c, s.ledgerSvc.RecordDebit)
}

func (s *Server) record(c *gin.Context, fn func(ctx context.Context, actor principal.Principal, req ledgerdomain.RecordRequest) (ledgerdomain.BalanceTransaction, error)) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var body recordTransactionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req, err := body.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	txn, err := fn(c.Request.Context(), actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": txn})
}

func (s *Server) ConfirmTransaction(c *gin.Context) {
	s.decide(c, s.ledgerSvc.Confirm)
}

func (s *Server) RejectTransaction(c *gin.Context) {
	s.decide(c, s.ledgerSvc.Reject)
}

func (s *Server) decide(c *gin.Context, fn func(ctx context.Context, actor principal.Principal, id snowflake.ID) (ledgerdomain.BalanceTransaction, error)) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	txn, err := fn(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) DeleteTransaction(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.ledgerSvc.Delete(c.Request.Context(), actor, id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetTransaction(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	txn, err := s.ledgerSvc.GetTransaction(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) ListTransactions(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
		Kind   string `form:"kind"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	accountID, ok := queryID(c, "account_id")
	if !ok {
		return
	}
	from, ok := queryTime(c, "from", false)
	if !ok {
		return
	}
	to, ok := queryTime(c, "to", true)
	if !ok {
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), actor, ledgerdomain.ListTransactionRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		AccountID: accountID,
		Status:    ledgerdomain.Status(strings.ToLower(strings.TrimSpace(query.Status))),
		Kind:      ledgerdomain.Kind(strings.ToLower(strings.TrimSpace(query.Kind))),
		From:      from,
		To:        to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}
