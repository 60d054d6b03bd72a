package notify

import (
	"context"
	"sync"
	"time"
)

const (
	TypeMessageArrived = "message.arrived"
	TypeMessageSent    = "message.sent"
)

// MessageEvent is the canonical message shape broadcast to a user's
// connected clients.
type MessageEvent struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	From      string    `json:"from"`
	FromName  string    `json:"from_name"`
	ChatID    string    `json:"chat_id"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	UserID        uint64    `json:"user_id"`
}

type Envelope struct {
	Meta Meta         `json:"meta"`
	Data MessageEvent `json:"data"`
}

// Publisher hands completed message events to the notification bus.
// Delivery to connected clients is owned by the transport layer behind it.
type Publisher interface {
	Publish(ctx context.Context, userID uint64, eventType string, ev MessageEvent) error
}

// MemPublisher records events in memory. Used in tests and as a stand-in
// when no bus is configured.
type MemPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

func NewMemPublisher() *MemPublisher {
	return &MemPublisher{}
}

func (p *MemPublisher) Publish(_ context.Context, userID uint64, eventType string, ev MessageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Envelope{
		Meta: Meta{Type: eventType, OccurredAt: time.Now(), UserID: userID},
		Data: ev,
	})
	return nil
}

func (p *MemPublisher) Events() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.events...)
}
