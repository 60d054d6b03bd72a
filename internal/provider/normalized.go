package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ErrMalformedPayload marks payloads that cannot be normalized because a
// required field (sender identity, timestamp, content) is absent after
// provider-specific fallbacks. Wrapped with the concrete reason.
var ErrMalformedPayload = errors.New("malformed payload")

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, reason)
}

type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
}

// Metadata is a tagged union: exactly one variant is non-nil, matching the
// provider the message came from. Consumers must switch on the set variant
// and never read fields across variants.
type Metadata struct {
	Aggregator *AggregatorMeta `json:"aggregator,omitempty"`
	Gmail      *GmailMeta      `json:"gmail,omitempty"`
	Outlook    *OutlookMeta    `json:"outlook,omitempty"`
}

// AggregatorMeta carries the WhatsApp/Instagram aggregator message verbatim
// plus the fields surfaced for routing.
type AggregatorMeta struct {
	Channel    string          `json:"channel"`
	ChatID     string          `json:"chat_id"`
	AttendeeID string          `json:"attendee_id"`
	Raw        json.RawMessage `json:"raw"`
}

type GmailMeta struct {
	ThreadID string          `json:"thread_id"`
	LabelIDs []string        `json:"label_ids"`
	Raw      json.RawMessage `json:"raw"`
}

type OutlookMeta struct {
	ConversationID string          `json:"conversation_id"`
	Raw            json.RawMessage `json:"raw"`
}

// NormalizedMessage is the provider-agnostic shape every webhook payload is
// mapped to before it touches storage.
type NormalizedMessage struct {
	// ExternalID is the provider's message id, unique per (account, provider).
	ExternalID string

	Direction  Direction
	SenderID   string
	SenderName string

	// ChatID is the provider's chat id. It may vary across deliveries for
	// the same logical conversation, so it is never a dedup key on its own.
	ChatID string

	// ThreadID is the email conversation id, empty for chat providers.
	ThreadID string

	Subject     string
	Body        string
	HTMLBody    string
	Attachments []Attachment
	SentAt      time.Time

	Metadata Metadata
}
