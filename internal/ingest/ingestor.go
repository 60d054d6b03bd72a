package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/notify"
	"github.com/omniboxd/omnibox/internal/provider"
)

// State is the terminal state of one webhook delivery.
type State string

const (
	StateRejected   State = "rejected"   // bad signature
	StateDropped    State = "dropped"    // malformed or unroutable, logged, no notification
	StateSuppressed State = "suppressed" // self-chat, intentionally not persisted
	StateDuplicate  State = "duplicate"  // replayed delivery, idempotent no-op
	StateProcessed  State = "processed"
)

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrUnknownAccount   = errors.New("no account for connection")
)

type Result struct {
	State   State
	Chat    *chat.Chat
	Message *chat.Message
}

// Ingestor runs the webhook pipeline: verify, normalize, resolve chat,
// upsert message, notify. Each delivery is isolated; a failing delivery
// never affects the next one.
type Ingestor struct {
	repo     *chat.Repo
	resolver *chat.Resolver
	registry *provider.Registry
	pub      notify.Publisher
	secret   string
	logs     logRepo
	log      *slog.Logger
}

func New(db *gorm.DB, repo *chat.Repo, registry *provider.Registry, pub notify.Publisher, secret string, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		repo:     repo,
		resolver: chat.NewResolver(repo),
		registry: registry,
		pub:      pub,
		secret:   secret,
		logs:     logRepo{db: db},
		log:      log,
	}
}

// webhookEnvelope is the minimal shape every provider event family shares.
type webhookEnvelope struct {
	Event        string `json:"event"`
	ConnectionID string `json:"connection_id"`
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body against the
// shared secret. With no secret configured, verification is disabled.
func (ing *Ingestor) VerifySignature(body []byte, signature string) bool {
	if ing.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(ing.secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// Handle processes one webhook delivery for one provider. It returns an
// error only for unexpected infrastructure failures; rejected and dropped
// deliveries come back as a terminal State with a nil error.
func (ing *Ingestor) Handle(ctx context.Context, tag provider.Tag, body []byte, signature string) (Result, error) {
	if !ing.VerifySignature(body, signature) {
		ing.record(ctx, tag, "", StateRejected, ErrSignatureInvalid.Error())
		return Result{State: StateRejected}, nil
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.ConnectionID == "" {
		ing.log.Warn("webhook dropped", "provider", tag, "reason", "no connection id")
		ing.record(ctx, tag, "", StateDropped, "missing connection_id")
		return Result{State: StateDropped}, nil
	}

	account, err := ing.repo.GetAccountByConnection(ctx, string(tag), env.ConnectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ing.log.Warn("webhook dropped", "provider", tag, "connection", env.ConnectionID, "reason", "unknown account")
			ing.record(ctx, tag, "", StateDropped, ErrUnknownAccount.Error())
			return Result{State: StateDropped}, nil
		}
		return Result{}, err
	}

	if isReceiptEvent(env.Event) {
		return ing.handleReceipt(ctx, tag, account, env.Event, body)
	}

	p, err := ing.registry.Get(tag)
	if err != nil {
		ing.log.Warn("webhook dropped", "provider", tag, "reason", "unknown provider")
		ing.record(ctx, tag, "", StateDropped, "unknown provider")
		return Result{State: StateDropped}, nil
	}

	nm, err := p.Normalize(body)
	if err != nil {
		if errors.Is(err, provider.ErrMalformedPayload) {
			ing.log.Warn("webhook dropped", "provider", tag, "err", err)
			ing.record(ctx, tag, "", StateDropped, err.Error())
			return Result{State: StateDropped}, nil
		}
		return Result{}, err
	}

	// A message from the account's own identity is an echo, not an error.
	// Neither persisted nor notified.
	if nm.Direction == provider.DirectionInbound && chat.IsSelf(account, nm.SenderID) {
		ing.record(ctx, tag, nm.ExternalID, StateSuppressed, "")
		return Result{State: StateSuppressed}, nil
	}

	ch, err := ing.resolver.Resolve(ctx, account, nm)
	if err != nil {
		return Result{}, err
	}

	msg, created, err := ing.upsert(ctx, ch, nm)
	if err != nil {
		return Result{}, err
	}
	if !created {
		ing.record(ctx, tag, nm.ExternalID, StateDuplicate, "")
		return Result{State: StateDuplicate, Chat: ch, Message: msg}, nil
	}

	if nm.Direction == provider.DirectionInbound {
		if err := ing.repo.IncrementUnread(ctx, ch.ID); err != nil {
			return Result{}, err
		}
	}

	eventType := notify.TypeMessageArrived
	if nm.Direction == provider.DirectionOutbound {
		eventType = notify.TypeMessageSent
	}
	if err := ing.pub.Publish(ctx, account.UserID, eventType, notify.MessageEvent{
		ID:        msg.MessageID,
		Body:      msg.Body,
		From:      msg.SenderID,
		FromName:  msg.SenderName,
		ChatID:    ch.ChatID,
		Direction: msg.Direction,
		Status:    string(msg.Status),
		SentAt:    msg.SentAt,
	}); err != nil {
		// The message is committed; notification delivery is best-effort.
		ing.log.Error("notify publish failed", "provider", tag, "message", msg.MessageID, "err", err)
	}

	ing.record(ctx, tag, nm.ExternalID, StateProcessed, "")
	return Result{State: StateProcessed, Chat: ch, Message: msg}, nil
}

func (ing *Ingestor) upsert(ctx context.Context, ch *chat.Chat, nm *provider.NormalizedMessage) (*chat.Message, bool, error) {
	msgID, err := chat.NewMessageID()
	if err != nil {
		return nil, false, err
	}

	status := chat.StatusDelivered
	if nm.Direction == provider.DirectionOutbound {
		status = chat.StatusSent
	}

	atts, err := json.Marshal(nm.Attachments)
	if err != nil {
		return nil, false, err
	}
	meta, err := json.Marshal(nm.Metadata)
	if err != nil {
		return nil, false, err
	}

	m := &chat.Message{
		MessageID:        msgID,
		ChatID:           ch.ID,
		ExternalID:       nm.ExternalID,
		Direction:        string(nm.Direction),
		SenderID:         nm.SenderID,
		SenderName:       nm.SenderName,
		Subject:          nm.Subject,
		Body:             nm.Body,
		HTMLBody:         nm.HTMLBody,
		Attachments:      atts,
		ProviderMetadata: meta,
		Status:           status,
		SentAt:           nm.SentAt,
	}
	return ing.repo.UpsertMessage(ctx, m)
}

func isReceiptEvent(event string) bool {
	switch event {
	case "message_delivered", "message_read":
		return true
	}
	return false
}

type receiptEvent struct {
	Chat struct {
		ID string `json:"id"`
	} `json:"chat"`
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
}

// handleReceipt advances an outbound message's delivery status from a
// provider receipt. Out-of-order and replayed receipts are no-ops.
func (ing *Ingestor) handleReceipt(ctx context.Context, tag provider.Tag, account *chat.Account, event string, body []byte) (Result, error) {
	var rcpt receiptEvent
	if err := json.Unmarshal(body, &rcpt); err != nil || rcpt.Message.ID == "" || rcpt.Chat.ID == "" {
		ing.record(ctx, tag, "", StateDropped, "malformed receipt")
		return Result{State: StateDropped}, nil
	}

	ch, err := ing.repo.GetChatByProviderChatID(ctx, account.ID, rcpt.Chat.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ing.record(ctx, tag, rcpt.Message.ID, StateDropped, "receipt for unknown chat")
			return Result{State: StateDropped}, nil
		}
		return Result{}, err
	}

	next := chat.StatusDelivered
	if event == "message_read" {
		next = chat.StatusRead
	}
	if err := ing.repo.AdvanceMessageStatus(ctx, ch.ID, rcpt.Message.ID, next); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ing.record(ctx, tag, rcpt.Message.ID, StateDropped, "receipt for unknown message")
			return Result{State: StateDropped}, nil
		}
		return Result{}, err
	}

	ing.record(ctx, tag, rcpt.Message.ID, StateProcessed, "")
	return Result{State: StateProcessed, Chat: ch}, nil
}

func (ing *Ingestor) record(ctx context.Context, tag provider.Tag, externalID string, outcome State, errText string) {
	if err := ing.logs.record(ctx, DeliveryLog{
		Provider:   string(tag),
		ExternalID: externalID,
		Outcome:    string(outcome),
		Error:      errText,
	}); err != nil {
		ing.log.Error("delivery log write failed", "provider", tag, "err", err)
	}
}
