package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/omniboxd/omnibox/internal/common"
	"github.com/omniboxd/omnibox/internal/dispatch"
	"github.com/omniboxd/omnibox/internal/provider"
	"github.com/omniboxd/omnibox/internal/ratelimit"
)

type sendMessageReq struct {
	AccountID   string                `json:"account_id" binding:"required"`
	ChatID      string                `json:"chat_id"`
	Recipients  []string              `json:"recipients"`
	Body        string                `json:"body" binding:"required"`
	Subject     string                `json:"subject"`
	Attachments []provider.Attachment `json:"attachments"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, err := h.Dispatcher.Send(c.Request.Context(), uid, dispatch.SendInput{
		AccountID:   req.AccountID,
		ChatID:      req.ChatID,
		Recipients:  req.Recipients,
		Body:        req.Body,
		Subject:     req.Subject,
		Attachments: req.Attachments,
	})
	if err != nil {
		var limitErr *ratelimit.LimitError
		switch {
		case errors.As(err, &limitErr):
			common.FailCoded(c, http.StatusPaymentRequired, string(limitErr.Kind), limitErr.Error())
		case errors.Is(err, dispatch.ErrNotEntitled):
			common.FailCoded(c, http.StatusPaymentRequired, "NOT_ENTITLED", "channel not available on this plan")
		case errors.Is(err, dispatch.ErrProviderUnavailable):
			common.Fail(c, http.StatusBadGateway, 50201, "provider send failed")
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40004, "account or chat not found")
		default:
			common.Fail(c, http.StatusInternalServerError, 50002, "failed to send message")
		}
		return
	}

	common.OK(c, msg)
}
