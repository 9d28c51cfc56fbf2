package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/features/approval"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/store"
)

// DecisionRequest: тело POST /orders/:id/decision.
type DecisionRequest struct {
	Action      orders.Action    `json:"action" binding:"required"`
	Reason      string           `json:"reason"`
	FinalAmount *decimal.Decimal `json:"final_amount"`
}

// SubmitRequest: тело POST /orders.
type SubmitRequest struct {
	UserID          string          `json:"user_id" binding:"required"`
	Kind            orders.Kind     `json:"order_type" binding:"required"`
	GameID          string          `json:"game_id"`
	Amount          decimal.Decimal `json:"amount"`
	Origin          orders.Channel  `json:"origin"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentProofURL string          `json:"payment_proof_url"`
	ProofHash       string          `json:"proof_hash"`
}

// ProofRequest: тело POST /orders/:id/proof.
type ProofRequest struct {
	URL  string `json:"payment_proof_url" binding:"required"`
	Hash string `json:"proof_hash"`
}

// CancelRequest: тело POST /orders/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// OrderResponse: заказ с историей решений.
type OrderResponse struct {
	*orders.Order
	History []orders.ApprovalAction `json:"history"`
}

func (s *Server) decide(c *gin.Context) {
	var body DecisionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.deps.Approvals.DecideWithRetry(c.Request.Context(), approval.Request{
		OrderID:     c.Param("id"),
		Action:      body.Action,
		ActorID:     actorID(c),
		Reason:      body.Reason,
		Channel:     orders.ChannelAdmin,
		FinalAmount: body.FinalAmount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) submitOrder(c *gin.Context) {
	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if body.Origin == "" {
		body.Origin = orders.ChannelAdmin
	}

	o, err := s.deps.Approvals.Submit(c.Request.Context(), approval.NewOrder{
		UserID:          body.UserID,
		Kind:            body.Kind,
		GameID:          body.GameID,
		Amount:          body.Amount,
		Origin:          body.Origin,
		PaymentMethod:   body.PaymentMethod,
		PaymentProofURL: body.PaymentProofURL,
		ProofHash:       body.ProofHash,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) submitProof(c *gin.Context) {
	var body ProofRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	o, err := s.deps.Approvals.SubmitProof(c.Request.Context(), c.Param("id"), body.URL, body.Hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	var body CancelRequest
	// тело необязательно
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	o, err := s.deps.Approvals.Cancel(c.Request.Context(), c.Param("id"), actorID(c), body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) getOrder(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := s.deps.Approvals.Order(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := s.deps.Approvals.History(ctx, o.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if history == nil {
		history = []orders.ApprovalAction{}
	}
	c.JSON(http.StatusOK, OrderResponse{Order: o, History: history})
}

// listOrders: GET /orders?user_id=&order_type=&status=&limit=
func (s *Server) listOrders(c *gin.Context) {
	f := store.OrderFilter{
		UserID: c.Query("user_id"),
		Kind:   orders.Kind(c.Query("order_type")),
		Status: orders.Status(c.Query("status")),
		Limit:  100,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, errLimit)
			return
		}
		f.Limit = n
	}

	list, err := s.deps.Approvals.Orders(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}
