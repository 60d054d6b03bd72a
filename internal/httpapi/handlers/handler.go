package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/common"
	"github.com/omniboxd/omnibox/internal/config"
	"github.com/omniboxd/omnibox/internal/dispatch"
	"github.com/omniboxd/omnibox/internal/httpapi/middleware"
	"github.com/omniboxd/omnibox/internal/ingest"
)

type Handler struct {
	DB         *gorm.DB
	Cfg        config.Config
	Repo       *chat.Repo
	Ingestor   *ingest.Ingestor
	Dispatcher *dispatch.Dispatcher
}

func NewHandler(db *gorm.DB, cfg config.Config, repo *chat.Repo, ing *ingest.Ingestor, disp *dispatch.Dispatcher) *Handler {
	return &Handler{
		DB:         db,
		Cfg:        cfg,
		Repo:       repo,
		Ingestor:   ing,
		Dispatcher: disp,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
