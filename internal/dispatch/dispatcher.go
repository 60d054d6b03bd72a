package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/notify"
	"github.com/omniboxd/omnibox/internal/provider"
	"github.com/omniboxd/omnibox/internal/ratelimit"
)

var (
	// ErrNotEntitled means the entitlement gate refused the channel.
	ErrNotEntitled = errors.New("channel not entitled")
	// ErrProviderUnavailable wraps a failed provider send. Nothing is
	// persisted and nothing retries; the caller re-invokes.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

type SendInput struct {
	AccountID   string
	ChatID      string
	Recipients  []string
	Body        string
	Subject     string
	Attachments []provider.Attachment
}

// Dispatcher is the thin outbound path: entitlement gate, rate governor,
// provider send, persist. Send semantics are the provider's business.
type Dispatcher struct {
	repo     *chat.Repo
	registry *provider.Registry
	governor *ratelimit.Governor
	gate     EntitlementGate
	pub      notify.Publisher
	log      *slog.Logger

	now func() time.Time
}

func New(repo *chat.Repo, registry *provider.Registry, governor *ratelimit.Governor, gate EntitlementGate, pub notify.Publisher, log *slog.Logger) *Dispatcher {
	if gate == nil {
		gate = AllowAll{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		repo:     repo,
		registry: registry,
		governor: governor,
		gate:     gate,
		pub:      pub,
		log:      log,
		now:      time.Now,
	}
}

// Send runs one outbound send for the given user. The message row is
// written with status=sent only after the provider hands back its message
// id; on provider failure nothing is persisted.
func (d *Dispatcher) Send(ctx context.Context, userID uint64, in SendInput) (*chat.Message, error) {
	account, err := d.repo.GetAccountByAccountID(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}

	tag := provider.Tag(account.Provider)
	allowed, err := d.gate.Allowed(ctx, account, tag)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotEntitled
	}

	// An existing chat makes this a reply, which bypasses cooldowns.
	var ch *chat.Chat
	if in.ChatID != "" {
		ch, err = d.repo.GetChatByChatID(ctx, in.ChatID)
		if err != nil {
			return nil, err
		}
		if ch.AccountID != account.ID {
			return nil, gorm.ErrRecordNotFound
		}
	}

	recipients := in.Recipients
	if len(recipients) == 0 && ch != nil {
		recipients = []string{ch.IdentityKey}
	}

	var attachmentBytes int64
	for _, a := range in.Attachments {
		attachmentBytes += a.Size
	}

	now := d.now()
	if err := d.governor.CheckAndReserve(ctx, ratelimit.SendCheck{
		AccountID:       account.AccountID,
		Trial:           account.Trial,
		Recipients:      recipients,
		AttachmentBytes: attachmentBytes,
		IsReply:         ch != nil,
	}, now); err != nil {
		return nil, err
	}

	p, err := d.registry.Get(tag)
	if err != nil {
		return nil, err
	}

	var providerChatID string
	if ch != nil {
		providerChatID = ch.ProviderChatID
	}
	externalID, err := p.Send(ctx, provider.SendRequest{
		AccountExternalID: account.ExternalID,
		ChatID:            providerChatID,
		Recipients:        recipients,
		Subject:           in.Subject,
		Body:              in.Body,
		Attachments:       in.Attachments,
	})
	if err != nil {
		d.log.Warn("provider send failed", "provider", tag, "account", account.AccountID, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if ch == nil {
		ch, err = d.chatForRecipient(ctx, account, recipients[0], now)
		if err != nil {
			return nil, err
		}
	}

	msg, err := d.persistSent(ctx, account, ch, in, externalID, now)
	if err != nil {
		return nil, err
	}

	if err := d.pub.Publish(ctx, account.UserID, notify.TypeMessageSent, notify.MessageEvent{
		ID:        msg.MessageID,
		Body:      msg.Body,
		From:      msg.SenderID,
		FromName:  account.DisplayName,
		ChatID:    ch.ChatID,
		Direction: msg.Direction,
		Status:    string(msg.Status),
		SentAt:    msg.SentAt,
	}); err != nil {
		d.log.Error("notify publish failed", "account", account.AccountID, "err", err)
	}

	return msg, nil
}

func (d *Dispatcher) chatForRecipient(ctx context.Context, account *chat.Account, recipient string, now time.Time) (*chat.Chat, error) {
	key := chat.NormalizeIdentity(recipient)
	if key == "" {
		key = recipient
	}
	chatID, err := chat.NewChatID()
	if err != nil {
		return nil, err
	}
	ch, _, err := d.repo.GetOrCreateChat(ctx, &chat.Chat{
		ChatID:        chatID,
		AccountID:     account.ID,
		IdentityKey:   key,
		Title:         recipient,
		LastMessageAt: now,
	})
	return ch, err
}

func (d *Dispatcher) persistSent(ctx context.Context, account *chat.Account, ch *chat.Chat, in SendInput, externalID string, now time.Time) (*chat.Message, error) {
	msgID, err := chat.NewMessageID()
	if err != nil {
		return nil, err
	}
	atts, err := json.Marshal(in.Attachments)
	if err != nil {
		return nil, err
	}

	msg, _, err := d.repo.UpsertMessage(ctx, &chat.Message{
		MessageID:   msgID,
		ChatID:      ch.ID,
		ExternalID:  externalID,
		Direction:   string(provider.DirectionOutbound),
		SenderID:    account.Identity,
		SenderName:  account.DisplayName,
		Subject:     in.Subject,
		Body:        in.Body,
		Attachments: atts,
		Status:      chat.StatusSent,
		SentAt:      now,
	})
	if err != nil {
		return nil, err
	}

	if err := d.repo.UpdateChatOnMessage(ctx, ch, "", now, ""); err != nil {
		return nil, err
	}
	return msg, nil
}
