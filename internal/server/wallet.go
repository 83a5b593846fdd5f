package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetWalletBalance(c *gin.Context) {
	userID, err := snowflake.ParseString(c.Param("userId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	balance, err := s.walletSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID.String(),
		"balance": paymentdomain.FormatAmount(balance),
	})
}
