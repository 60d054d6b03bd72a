package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/omniboxd/omnibox/internal/chat"
	"github.com/omniboxd/omnibox/internal/config"
)

// Governor enforces per-account outbound sending limits. It holds no state
// of its own; every counter lives in the shared Store so concurrent sends
// from the same account contend on one source of truth.
type Governor struct {
	store Store
	cfg   config.LimitConfig
}

func NewGovernor(store Store, cfg config.LimitConfig) *Governor {
	return &Governor{store: store, cfg: cfg}
}

type SendCheck struct {
	AccountID       string
	Trial           bool
	Recipients      []string
	Domains         []string
	AttachmentBytes int64
	IsReply         bool
}

// CheckAndReserve validates a send against every configured ceiling and,
// only if all pass, records the usage. Checks short-circuit in order:
// recipient count, attachment size, hourly cap, daily cap, recipient
// cooldown, domain cooldown. A failing send changes no counter.
func (g *Governor) CheckAndReserve(ctx context.Context, req SendCheck, now time.Time) error {
	if len(req.Recipients) == 0 {
		return &LimitError{Kind: KindNoRecipients}
	}
	if len(req.Recipients) > g.cfg.MaxRecipientsPerMessage {
		return &LimitError{Kind: KindTooManyRecipients}
	}
	if req.AttachmentBytes > g.cfg.MaxAttachmentBytes {
		return &LimitError{Kind: KindAttachmentTooBig}
	}

	dailyMax := g.cfg.MaxPerDay
	if req.Trial {
		dailyMax = g.cfg.TrialMaxPerDay
	}

	res := Reservation{
		Counters: []Counter{
			{
				Key:  "rl:" + req.AccountID + ":h:" + now.UTC().Format("2006010215"),
				Max:  int64(g.cfg.MaxPerHour),
				TTL:  2 * time.Hour,
				Kind: KindHourlyCap,
			},
			{
				Key:  "rl:" + req.AccountID + ":d:" + now.UTC().Format("20060102"),
				Max:  int64(dailyMax),
				TTL:  48 * time.Hour,
				Kind: KindDailyCap,
			},
		},
	}

	// A reply bypasses the cooldown checks but still refreshes the keys:
	// the recipient was contacted either way. A window of zero disables
	// the cooldown entirely.
	enforce := !req.IsReply

	if w := time.Duration(g.cfg.RecipientCooldownSec) * time.Second; w > 0 {
		for _, k := range recipientKeys(req.Recipients) {
			res.Cooldowns = append(res.Cooldowns, Cooldown{
				Key:     "rl:" + req.AccountID + ":rcpt:" + k,
				Window:  w,
				Enforce: enforce,
				Kind:    KindRecipientCooldown,
			})
		}
	}
	if w := time.Duration(g.cfg.DomainCooldownSec) * time.Second; w > 0 {
		for _, d := range domainsFor(req) {
			res.Cooldowns = append(res.Cooldowns, Cooldown{
				Key:     "rl:" + req.AccountID + ":dom:" + d,
				Window:  w,
				Enforce: enforce,
				Kind:    KindDomainCooldown,
			})
		}
	}

	kind, err := g.store.Reserve(ctx, res, now)
	if err != nil {
		return err
	}
	if kind != "" {
		return &LimitError{Kind: kind}
	}
	return nil
}

// recipientKeys canonicalizes recipients the same way chat resolution
// does, so the formatted and unformatted spellings of one identity share
// a single cooldown key.
func recipientKeys(recipients []string) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		k := chat.NormalizeIdentity(r)
		if k == "" {
			k = strings.ToLower(r)
		}
		out = append(out, k)
	}
	return dedup(out)
}

func domainsFor(req SendCheck) []string {
	if len(req.Domains) > 0 {
		out := make([]string, 0, len(req.Domains))
		for _, d := range req.Domains {
			out = append(out, strings.ToLower(d))
		}
		return dedup(out)
	}
	var out []string
	for _, r := range req.Recipients {
		if at := strings.LastIndex(r, "@"); at >= 0 && at < len(r)-1 {
			out = append(out, strings.ToLower(r[at+1:]))
		}
	}
	return dedup(out)
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
