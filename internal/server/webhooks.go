package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandlePaymentWebhook acknowledges with 200 whenever the delivery was
// durably handled, including payloads parked on the retry queue. Only a
// signature failure earns a non-2xx, so the processor re-signs and resends.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	outcome, err := s.paymentSvc.HandleWebhook(c.Request.Context(), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}

func (s *Server) HandleTranscodeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sig := c.GetHeader("X-Fanlore-Signature")
	if err := s.transcodeSvc.HandleWebhook(c.Request.Context(), payload, sig); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
