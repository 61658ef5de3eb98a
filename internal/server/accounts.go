package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/principal"
)

type createAccountRequest struct {
	ID          snowflake.ID `json:"id"`
	DisplayName string       `json:"display_name"`
	Role        string       `json:"role"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	role, valid := principal.ParseRole(req.Role)
	if !valid {
		AbortWithError(c, ledgerdomain.ErrInvalidRole)
		return
	}

	account, err := s.ledgerSvc.CreateAccount(c.Request.Context(), actor, ledgerdomain.CreateAccountRequest{
		ID:          req.ID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": account})
}

func (s *Server) ListAccounts(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	accounts, err := s.ledgerSvc.ListAccounts(c.Request.Context(), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

func (s *Server) GetAccount(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetBalance(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	balance, err := s.ledgerSvc.CurrentBalance(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": id,
		"balance":    balance,
	}})
}

func (s *Server) GetAccountSummary(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	summary, err := s.ledgerSvc.AccountSummary(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ReconcileAccount(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := s.ledgerSvc.Reconcile(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ReconcileAll(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	results, err := s.ledgerSvc.ReconcileAll(c.Request.Context(), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}
