package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/common"
)

func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chats, err := h.Repo.ListChats(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list chats")
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

// chatForUser loads a chat by public id and verifies the caller owns the
// account behind it.
func (h *Handler) chatForUser(c *gin.Context, uid uint64) (*chat.Chat, bool) {
	ch, err := h.Repo.GetChatByChatID(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "chat not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 50004, "db error")
		return nil, false
	}

	acc := &chat.Account{}
	if err := h.DB.WithContext(c.Request.Context()).First(acc, ch.AccountID).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "db error")
		return nil, false
	}
	if acc.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40004, "chat not found")
		return nil, false
	}
	return ch, true
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ch, ok := h.chatForUser(c, uid)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Repo.ListMessages(c.Request.Context(), ch.ID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) MarkChatRead(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ch, ok := h.chatForUser(c, uid)
	if !ok {
		return
	}

	if err := h.Repo.MarkChatRead(c.Request.Context(), ch.ID, time.Now().UTC()); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50006, "failed to mark read")
		return
	}
	common.OK(c, gin.H{"chat_id": ch.ChatID})
}
