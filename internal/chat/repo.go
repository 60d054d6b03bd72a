package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateAccount(ctx context.Context, a *Account) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repo) GetAccountByAccountID(ctx context.Context, accountID string) (*Account, error) {
	var a Account
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) GetAccountByConnection(ctx context.Context, providerTag, externalID string) (*Account, error) {
	var a Account
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", providerTag, externalID).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) UpdateAccountStatus(ctx context.Context, accountID uint64, status AccountStatus) error {
	return r.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", accountID).
		Update("status", status).Error
}

// GetOrCreateChat inserts the seed chat and, if the (account, identity key)
// uniqueness constraint rejects it, re-fetches and returns the winner. Two
// concurrent deliveries for the same new identity key therefore converge on
// one row without explicit locking.
func (r *Repo) GetOrCreateChat(ctx context.Context, seed *Chat) (*Chat, bool, error) {
	err := r.db.WithContext(ctx).Create(seed).Error
	if err == nil {
		return seed, true, nil
	}

	existing, getErr := r.getChatByIdentityKey(ctx, seed.AccountID, seed.IdentityKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func (r *Repo) getChatByIdentityKey(ctx context.Context, accountID uint64, identityKey string) (*Chat, error) {
	var ch Chat
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND identity_key = ?", accountID, identityKey).
		First(&ch).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChatByProviderChatID resolves a chat by the provider's own chat id,
// used for delivery receipts that carry no participant identity.
func (r *Repo) GetChatByProviderChatID(ctx context.Context, accountID uint64, providerChatID string) (*Chat, error) {
	var ch Chat
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND provider_chat_id = ?", accountID, providerChatID).
		First(&ch).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *Repo) GetChatByChatID(ctx context.Context, chatID string) (*Chat, error) {
	var ch Chat
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		First(&ch).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

// UpdateChatOnMessage merges message-derived fields into an existing chat:
// the title only while it is still a placeholder, last_message_at only
// forward in time.
func (r *Repo) UpdateChatOnMessage(ctx context.Context, ch *Chat, title string, sentAt time.Time, providerChatID string) error {
	updates := map[string]any{}
	if title != "" && ch.TitleIsPlaceholder() && title != ch.Title {
		updates["title"] = title
		ch.Title = title
	}
	if sentAt.After(ch.LastMessageAt) {
		updates["last_message_at"] = sentAt
		ch.LastMessageAt = sentAt
	}
	if providerChatID != "" && providerChatID != ch.ProviderChatID {
		updates["provider_chat_id"] = providerChatID
		ch.ProviderChatID = providerChatID
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", ch.ID).
		Updates(updates).Error
}

func (r *Repo) IncrementUnread(ctx context.Context, chatID uint64) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
}

// UpsertMessage inserts the message; a replayed delivery for the same
// (chat, external id) keeps the original row and only merges provider
// metadata. The bool result reports whether a new row was created.
func (r *Repo) UpsertMessage(ctx context.Context, m *Message) (*Message, bool, error) {
	err := r.db.WithContext(ctx).Create(m).Error
	if err == nil {
		return m, true, nil
	}

	existing, getErr := r.getMessageByExternalID(ctx, m.ChatID, m.ExternalID)
	if getErr == nil {
		if len(m.ProviderMetadata) > 0 {
			if updErr := r.db.WithContext(ctx).Model(&Message{}).
				Where("id = ?", existing.ID).
				Update("provider_metadata", m.ProviderMetadata).Error; updErr != nil {
				return nil, false, updErr
			}
			existing.ProviderMetadata = m.ProviderMetadata
		}
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func (r *Repo) getMessageByExternalID(ctx context.Context, chatID uint64, externalID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ? AND external_id = ?", chatID, externalID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// AdvanceMessageStatus applies a forward-only status transition keyed on
// the provider message id. Out-of-order receipts (read before delivered)
// never move the status backwards.
func (r *Repo) AdvanceMessageStatus(ctx context.Context, chatID uint64, externalID string, next MessageStatus) error {
	m, err := r.getMessageByExternalID(ctx, chatID, externalID)
	if err != nil {
		return err
	}
	if !StatusAdvances(m.Status, next) {
		return nil
	}
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND status = ?", m.ID, m.Status).
		Update("status", next).Error
}

func (r *Repo) ListChats(ctx context.Context, userID uint64) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.id = chats.account_id").
		Where("accounts.user_id = ?", userID).
		Order("chats.last_message_at DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, chatID uint64, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkChatRead zeroes the unread counter and stamps read_at on every
// inbound message that has none.
func (r *Repo) MarkChatRead(ctx context.Context, chatID uint64, now time.Time) error {
	if err := r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		UpdateColumn("unread_count", 0).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id = ? AND direction = ? AND read_at IS NULL", chatID, "inbound").
		Update("read_at", now).Error
}
