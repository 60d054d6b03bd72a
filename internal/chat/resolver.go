package chat

import (
	"context"
	"strings"

	"github.com/omniboxd/omnibox/internal/provider"
)

// Resolver maps a normalized message to the chat it belongs to, creating
// the chat on first contact. The dedup key is the durable participant
// identity, not the provider's chat id, so the same conversation re-exposed
// under a fresh provider chat id (for example after a reconnect) still
// lands in the one existing chat.
type Resolver struct {
	repo *Repo
}

func NewResolver(repo *Repo) *Resolver {
	return &Resolver{repo: repo}
}

// IdentityKey derives the dedup key for a message. The bool result is
// false when no participant identity was available and the key fell back
// to the provider's raw chat id, which carries a duplication risk.
func IdentityKey(m *provider.NormalizedMessage) (string, bool) {
	if m.ThreadID != "" {
		return "thread:" + m.ThreadID, true
	}
	if id := NormalizeIdentity(m.SenderID); id != "" {
		return id, true
	}
	if m.ChatID != "" {
		return "raw:" + m.ChatID, false
	}
	return "", false
}

// NormalizeIdentity canonicalizes a participant identifier. Phone-shaped
// identities lose transport suffixes and every non-digit; mail addresses
// are lowercased.
func NormalizeIdentity(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}

	// transport-suffixed jid, e.g. 15550001111@s.whatsapp.net
	if at := strings.Index(id, "@"); at > 0 {
		local, domain := id[:at], id[at+1:]
		if looksLikeJID(domain) && isDigits(local) {
			id = local
		} else if strings.Contains(domain, ".") {
			// mail address
			return strings.ToLower(id)
		}
	}

	if digits := digitsOf(id); digits != "" {
		return digits
	}
	return strings.ToLower(id)
}

func looksLikeJID(domain string) bool {
	switch domain {
	case "s.whatsapp.net", "c.us", "g.us", "broadcast":
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	// require enough digits to be a phone number, not a numeric fragment
	if b.Len() < 5 {
		return ""
	}
	return b.String()
}

// IsSelf reports whether the message sender is one of the account's own
// identities, after normalization on both sides.
func IsSelf(account *Account, senderID string) bool {
	sender := NormalizeIdentity(senderID)
	if sender == "" {
		return false
	}
	for _, self := range account.SelfIdentitySet() {
		if NormalizeIdentity(self) == sender {
			return true
		}
	}
	return false
}

// Resolve finds or creates the chat for a normalized message and merges
// message-derived chat fields (title, last message time, provider chat id).
func (rs *Resolver) Resolve(ctx context.Context, account *Account, m *provider.NormalizedMessage) (*Chat, error) {
	key, _ := IdentityKey(m)

	title := m.SenderName
	if title == "" {
		title = key
	}

	chatID, err := NewChatID()
	if err != nil {
		return nil, err
	}
	seed := &Chat{
		ChatID:         chatID,
		AccountID:      account.ID,
		IdentityKey:    key,
		ProviderChatID: m.ChatID,
		Title:          title,
		LastMessageAt:  m.SentAt,
	}

	ch, created, err := rs.repo.GetOrCreateChat(ctx, seed)
	if err != nil {
		return nil, err
	}
	if created {
		return ch, nil
	}

	if err := rs.repo.UpdateChatOnMessage(ctx, ch, m.SenderName, m.SentAt, m.ChatID); err != nil {
		return nil, err
	}
	return ch, nil
}
