package main

import (
	"log"
	"os"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/config"
	"github.com/omniboxd/omnibox/internal/db"
	"github.com/omniboxd/omnibox/internal/dispatch"
	"github.com/omniboxd/omnibox/internal/httpapi"
	"github.com/omniboxd/omnibox/internal/ingest"
	"github.com/omniboxd/omnibox/internal/provider"
	"github.com/omniboxd/omnibox/internal/ratelimit"
	"github.com/omniboxd/omnibox/internal/store/rabbitmq"
	"github.com/omniboxd/omnibox/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	reg := provider.NewRegistry()
	reg.Register(provider.NewAggregatorProvider(cfg.AggregatorBaseURL, cfg.AggregatorAPIKey, provider.TagWhatsApp))
	reg.Register(provider.NewAggregatorProvider(cfg.AggregatorBaseURL, cfg.AggregatorAPIKey, provider.TagInstagram))
	reg.Register(provider.NewGmailProvider(cfg.GmailBaseURL))
	reg.Register(provider.NewOutlookProvider(cfg.OutlookBaseURL))

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	governor := ratelimit.NewGovernor(ratelimit.NewRedisStore(rds.Client()), cfg.Limits)

	ing := ingest.New(gdb, repo, reg, pub, cfg.WebhookSecret, nil)
	disp := dispatch.New(repo, reg, governor, dispatch.AllowAll{}, pub, nil)

	r := httpapi.NewRouter(gdb, cfg, repo, ing, disp)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
