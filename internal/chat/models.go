package chat

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AccountStatus string

const (
	AccountConnected    AccountStatus = "connected"
	AccountNeedsAction  AccountStatus = "needs_action"
	AccountDisconnected AccountStatus = "disconnected"
)

// Account is one connected external identity (a phone number, a mailbox),
// owned by exactly one user.
type Account struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	AccountID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"account_id"`
	UserID    uint64 `gorm:"index;not null" json:"-"`

	Provider string `gorm:"type:varchar(32);not null;index:uniq_account_conn,unique,priority:1" json:"provider"`
	// ExternalID is the provider-side connection id carried in webhook payloads.
	ExternalID string `gorm:"type:varchar(128);not null;index:uniq_account_conn,unique,priority:2" json:"external_id"`

	DisplayName string `gorm:"type:varchar(255)" json:"display_name"`

	// Identity is the account's own address on the network (phone number,
	// mailbox address).
	Identity string `gorm:"type:varchar(255);not null" json:"identity"`
	// SelfIdentities holds extra representations of Identity (formatted vs
	// unformatted number, alias addresses). JSON array of strings.
	SelfIdentities datatypes.JSON `gorm:"type:json" json:"-"`

	// Credentials is an opaque blob owned by the auth layer.
	Credentials datatypes.JSON `gorm:"type:json" json:"-"`

	Status AccountStatus `gorm:"type:varchar(16);not null;default:connected" json:"status"`
	Trial  bool          `gorm:"not null;default:false" json:"trial"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// SelfIdentitySet returns every identity string that counts as "self" for
// this account, the primary identity included.
func (a *Account) SelfIdentitySet() []string {
	out := []string{a.Identity}
	if len(a.SelfIdentities) > 0 {
		var extra []string
		if err := json.Unmarshal(a.SelfIdentities, &extra); err == nil {
			out = append(out, extra...)
		}
	}
	return out
}

// Chat is one logical conversation owned by an account, deduplicated on
// (account, identity key) rather than the provider's chat id.
type Chat struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"chat_id"`

	AccountID uint64 `gorm:"not null;index:uniq_chat_identity,unique,priority:1" json:"-"`
	// IdentityKey is the durable dedup key: a normalized participant
	// identifier, or a raw-prefixed provider chat id when none is derivable.
	IdentityKey string `gorm:"type:varchar(255);not null;index:uniq_chat_identity,unique,priority:2" json:"identity_key"`

	// ProviderChatID is the provider's chat id as last seen. Display only;
	// it may change across reconnects.
	ProviderChatID string `gorm:"type:varchar(255);index" json:"provider_chat_id"`

	Title         string    `gorm:"type:varchar(255)" json:"title"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
	UnreadCount   int       `gorm:"not null;default:0" json:"unread_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

// TitleIsPlaceholder reports whether the stored title is a fallback value
// that a real display name should replace.
func (ch *Chat) TitleIsPlaceholder() bool {
	return ch.Title == "" || ch.Title == ch.IdentityKey || ch.Title == ch.ProviderChatID
}

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// StatusAdvances reports whether moving from to next is a forward
// transition. Failed is terminal and reachable only from pending/sent.
func StatusAdvances(from, next MessageStatus) bool {
	if from == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return from == StatusPending || from == StatusSent
	}
	return statusRank[next] > statusRank[from]
}

// Message is append-only except for status transitions and read_at.
type Message struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"message_id"`

	ChatID uint64 `gorm:"not null;index:uniq_msg_external,unique,priority:1" json:"-"`
	// ExternalID is the provider's message id, the idempotency key within
	// a chat.
	ExternalID string `gorm:"type:varchar(255);not null;index:uniq_msg_external,unique,priority:2" json:"external_id"`

	Direction  string `gorm:"type:varchar(16);not null" json:"direction"`
	SenderID   string `gorm:"type:varchar(255);not null" json:"sender_id"`
	SenderName string `gorm:"type:varchar(255)" json:"sender_name"`

	Subject  string `gorm:"type:varchar(998)" json:"subject,omitempty"`
	Body     string `gorm:"type:text" json:"body"`
	HTMLBody string `gorm:"type:text" json:"html_body,omitempty"`

	Attachments      datatypes.JSON `gorm:"type:json" json:"attachments,omitempty"`
	ProviderMetadata datatypes.JSON `gorm:"type:json" json:"-"`

	Status MessageStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	SentAt time.Time     `gorm:"index;not null" json:"sent_at"`
	ReadAt *time.Time    `json:"read_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "messages" }
