package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetPayment(c *gin.Context) {
	txnID := strings.TrimSpace(c.Param("txnId"))
	if txnID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	rec, err := s.paymentSvc.GetByTxnID(c.Request.Context(), txnID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": rec})
}

func (s *Server) GetPaymentAudit(c *gin.Context) {
	txnID := strings.TrimSpace(c.Param("txnId"))
	if txnID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	entries, err := s.auditSvc.ListByTarget(c.Request.Context(), "payment", txnID, 100)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) ListDeadLetters(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	jobs, err := s.retryQueue.ListDead(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) RequeueDeadLetter(c *gin.Context) {
	raw := strings.TrimSpace(c.Param("id"))
	parsed, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.retryQueue.Requeue(c.Request.Context(), parsed); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "requeued"})
}
