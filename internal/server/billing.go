package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

type createInvoiceRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID, err := snowflake.ParseString(req.UserID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	amount, err := paymentdomain.ParseAmount(req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.billingSvc.CreateInvoice(c.Request.Context(), userID, amount, req.Currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":   intent.Order,
		"pay_url": intent.PayURL,
	})
}
