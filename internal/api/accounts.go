package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"serotonyl.ru/cashier/internal/features/ledger"
)

var errLimit = errors.New("limit должен быть положительным числом")

// OpenAccountRequest: тело POST /accounts.
type OpenAccountRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) openAccount(c *gin.Context) {
	var body OpenAccountRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := s.deps.Approvals.OpenAccount(c.Request.Context(), body.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

// balance: GET /accounts/:id/balance?game_id=
func (s *Server) balance(c *gin.Context) {
	v, err := s.deps.Balances.View(c.Request.Context(), c.Param("id"), c.Query("game_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// cashoutPreview: сколько клиент получит, если выведет всё сейчас.
func (s *Server) cashoutPreview(c *gin.Context) {
	out, err := s.deps.Balances.Preview(c.Request.Context(), c.Param("id"), c.Query("game_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) entries(c *gin.Context) {
	list, err := s.deps.Balances.Entries(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []ledger.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": list})
}

// setFlags: PUT /accounts/:id/flags, флаги заменяются целиком.
func (s *Server) setFlags(c *gin.Context) {
	var flags ledger.Flags
	if err := c.ShouldBindJSON(&flags); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := s.deps.Approvals.SetFlags(c.Request.Context(), c.Param("id"), flags)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}
