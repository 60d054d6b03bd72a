package dispatch

import (
	"context"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/provider"
)

// EntitlementGate answers whether an account may use a channel at all.
// Owned by the billing/provisioning layer; consulted here, not implemented.
type EntitlementGate interface {
	Allowed(ctx context.Context, account *chat.Account, channel provider.Tag) (bool, error)
}

// AllowAll grants every channel. The default when no billing integration
// is wired up.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, *chat.Account, provider.Tag) (bool, error) {
	return true, nil
}

// StaticGate grants channels from a fixed per-account allowlist, falling
// back to Default for accounts without an entry.
type StaticGate struct {
	Channels map[string][]provider.Tag // keyed by public account id
	Default  bool
}

func (g StaticGate) Allowed(_ context.Context, account *chat.Account, channel provider.Tag) (bool, error) {
	tags, ok := g.Channels[account.AccountID]
	if !ok {
		return g.Default, nil
	}
	for _, t := range tags {
		if t == channel {
			return true, nil
		}
	}
	return false, nil
}
