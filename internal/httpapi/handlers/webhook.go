package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omniboxd/omnibox/internal/common"
	"github.com/omniboxd/omnibox/internal/ingest"
	"github.com/omniboxd/omnibox/internal/provider"
)

const signatureHeader = "X-Webhook-Signature"

// Webhook receives one provider callback. Processing is fire-and-forget:
// malformed deliveries are logged and dropped, never retried by us.
func (h *Handler) Webhook(c *gin.Context) {
	tag := provider.Tag(c.Param("provider"))

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 10<<20))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "unreadable body")
		return
	}

	res, err := h.Ingestor.Handle(c.Request.Context(), tag, body, c.GetHeader(signatureHeader))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "webhook processing failed")
		return
	}

	if res.State == ingest.StateRejected {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid signature")
		return
	}

	common.OK(c, gin.H{"state": res.State})
}
