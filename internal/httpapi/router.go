package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/common"
	"github.com/omniboxd/omnibox/internal/config"
	"github.com/omniboxd/omnibox/internal/dispatch"
	"github.com/omniboxd/omnibox/internal/httpapi/handlers"
	"github.com/omniboxd/omnibox/internal/httpapi/middleware"
	"github.com/omniboxd/omnibox/internal/ingest"
)

func NewRouter(db *gorm.DB, cfg config.Config, repo *chat.Repo, ing *ingest.Ingestor, disp *dispatch.Dispatcher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, repo, ing, disp)

	r.GET("/ping", h.Ping)

	// provider callbacks; authenticity is the HMAC signature, not a JWT
	r.POST("/webhooks/:provider", h.Webhook)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/messages/send", h.SendMessage)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.POST("/chats/:chat_id/read", h.MarkChatRead)

	return r
}
