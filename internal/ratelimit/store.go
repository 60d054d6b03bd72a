package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Kind names the specific limit an outbound send tripped.
type Kind string

const (
	KindNoRecipients      Kind = "NO_RECIPIENTS"
	KindTooManyRecipients Kind = "TOO_MANY_RECIPIENTS"
	KindAttachmentTooBig  Kind = "ATTACHMENT_TOO_LARGE"
	KindHourlyCap         Kind = "HOURLY_CAP"
	KindDailyCap          Kind = "DAILY_CAP"
	KindRecipientCooldown Kind = "RECIPIENT_COOLDOWN"
	KindDomainCooldown    Kind = "DOMAIN_COOLDOWN"
)

type LimitError struct {
	Kind Kind
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("send limit exceeded: %s", e.Kind)
}

// Counter is a capped, bucketed usage counter. The key encodes the
// calendar bucket; TTL covers passive expiry after the bucket closes.
type Counter struct {
	Key  string
	Max  int64
	TTL  time.Duration
	Kind Kind
}

// Cooldown is a minimum interval between sends keyed on a recipient or
// domain. When Enforce is false the key is still set on success (the
// contact happened) but an existing key does not reject the send.
type Cooldown struct {
	Key     string
	Window  time.Duration
	Enforce bool
	Kind    Kind
}

type Reservation struct {
	Counters  []Counter
	Cooldowns []Cooldown
}

// Store performs the whole check-and-reserve as one atomic operation:
// either every counter increments and every cooldown key is set, or
// nothing changes and the Kind of the first failing constraint (in
// Reservation order) is returned. A zero Kind means reserved.
type Store interface {
	Reserve(ctx context.Context, res Reservation, now time.Time) (Kind, error)
}
