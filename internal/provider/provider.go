package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Tag identifies a provider family. One normalization and one send
// implementation exist per tag; dispatch is a registry lookup, never
// inheritance.
type Tag string

const (
	TagWhatsApp  Tag = "whatsapp"
	TagInstagram Tag = "instagram"
	TagGmail     Tag = "gmail"
	TagOutlook   Tag = "outlook"
)

// SendRequest is the provider-facing half of an outbound send.
type SendRequest struct {
	// AccountExternalID is the provider-side connection/account id.
	AccountExternalID string
	ChatID            string
	Recipients        []string
	Subject           string
	Body              string
	Attachments       []Attachment
}

type Provider interface {
	Tag() Tag

	// Normalize maps one raw webhook payload to the canonical message
	// shape. Pure; no I/O.
	Normalize(payload []byte) (*NormalizedMessage, error)

	// Send delivers an outbound message and returns the provider-assigned
	// message id. Callers supply the timeout via ctx.
	Send(ctx context.Context, req SendRequest) (string, error)
}

type Registry struct {
	mu        sync.RWMutex
	providers map[Tag]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[Tag]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Tag()] = p
}

func (r *Registry) Get(tag Tag) (Provider, error) {
	t := Tag(strings.ToLower(strings.TrimSpace(string(tag))))
	r.mu.RLock()
	p, ok := r.providers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", tag)
	}
	return p, nil
}
