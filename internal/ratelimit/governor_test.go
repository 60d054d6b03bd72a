package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omniboxd/omnibox/internal/config"
)

func testLimits() config.LimitConfig {
	return config.LimitConfig{
		MaxRecipientsPerMessage: 3,
		MaxPerHour:              3,
		MaxPerDay:               4,
		TrialMaxPerDay:          2,
		RecipientCooldownSec:    300,
		DomainCooldownSec:       60,
		MaxAttachmentBytes:      1024,
	}
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	return le.Kind
}

func TestCheckAndReserve_StatelessChecks(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := g.CheckAndReserve(context.Background(), SendCheck{AccountID: "a1"}, now)
	if kindOf(t, err) != KindNoRecipients {
		t.Fatalf("expected NO_RECIPIENTS, got %v", err)
	}

	err = g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"},
	}, now)
	if kindOf(t, err) != KindTooManyRecipients {
		t.Fatalf("expected TOO_MANY_RECIPIENTS, got %v", err)
	}

	err = g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:       "a1",
		Recipients:      []string{"a@x.com"},
		AttachmentBytes: 2048,
	}, now)
	if kindOf(t, err) != KindAttachmentTooBig {
		t.Fatalf("expected ATTACHMENT_TOO_LARGE, got %v", err)
	}
}

func TestCheckAndReserve_HourlyCap(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	recipients := []string{"r1@a.com", "r2@b.com", "r3@c.com", "r4@d.com"}
	for i := 0; i < 3; i++ {
		if err := g.CheckAndReserve(context.Background(), SendCheck{
			AccountID:  "a1",
			Recipients: []string{recipients[i]},
		}, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}

	err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{recipients[3]},
	}, now.Add(3*time.Minute))
	if kindOf(t, err) != KindHourlyCap {
		t.Fatalf("expected HOURLY_CAP, got %v", err)
	}
}

func TestCheckAndReserve_FailedSendIncrementsNothing(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	hour1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	hour2 := hour1.Add(time.Hour)

	// fill the hourly bucket
	for i := 0; i < 3; i++ {
		if err := g.CheckAndReserve(context.Background(), SendCheck{
			AccountID:  "a1",
			Recipients: []string{"r@a.com"},
			IsReply:    true,
		}, hour1); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}

	// this one trips HOURLY_CAP; the daily counter and the cooldown key
	// for a fresh recipient must stay untouched
	err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"fresh@b.com"},
	}, hour1)
	if kindOf(t, err) != KindHourlyCap {
		t.Fatalf("expected HOURLY_CAP, got %v", err)
	}

	// next hour: fourth daily slot is still free (daily max = 4), and the
	// fresh recipient has no cooldown from the failed attempt
	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"fresh@b.com"},
	}, hour2); err != nil {
		t.Fatalf("expected success in next hour, got %v", err)
	}

	// and the fifth send of the day trips DAILY_CAP
	err = g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"other@c.com"},
	}, hour2.Add(time.Minute))
	if kindOf(t, err) != KindDailyCap {
		t.Fatalf("expected DAILY_CAP, got %v", err)
	}
}

func TestCheckAndReserve_TrialDailyCap(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := g.CheckAndReserve(context.Background(), SendCheck{
			AccountID:  "trial1",
			Trial:      true,
			Recipients: []string{"r@a.com"},
			IsReply:    true,
		}, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}

	err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "trial1",
		Trial:      true,
		Recipients: []string{"r@a.com"},
		IsReply:    true,
	}, now.Add(2*time.Minute))
	if kindOf(t, err) != KindDailyCap {
		t.Fatalf("expected DAILY_CAP for trial account, got %v", err)
	}
}

func TestCheckAndReserve_RecipientCooldown(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cooldown := 300 * time.Second

	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"x@a.com"},
	}, t0); err != nil {
		t.Fatalf("first send: %v", err)
	}

	err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"x@a.com"},
	}, t0.Add(cooldown-time.Second))
	if kindOf(t, err) != KindRecipientCooldown {
		t.Fatalf("expected RECIPIENT_COOLDOWN, got %v", err)
	}

	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"x@a.com"},
	}, t0.Add(cooldown+time.Second)); err != nil {
		t.Fatalf("expected success after cooldown, got %v", err)
	}
}

func TestCheckAndReserve_ReplyBypassesCooldown(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"x@a.com"},
	}, t0); err != nil {
		t.Fatalf("first send: %v", err)
	}

	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"x@a.com"},
		IsReply:    true,
	}, t0.Add(time.Minute)); err != nil {
		t.Fatalf("reply should bypass cooldown, got %v", err)
	}
}

func TestCheckAndReserve_DomainCooldown(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"one@same.com"},
	}, t0); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// different recipient, same mail domain, inside the domain window
	err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"two@same.com"},
	}, t0.Add(30*time.Second))
	if kindOf(t, err) != KindDomainCooldown {
		t.Fatalf("expected DOMAIN_COOLDOWN, got %v", err)
	}

	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"two@same.com"},
	}, t0.Add(61*time.Second)); err != nil {
		t.Fatalf("expected success after domain window, got %v", err)
	}
}

func TestCheckAndReserve_RecipientCooldownNormalizesIdentity(t *testing.T) {
	g := NewGovernor(NewMemStore(), testLimits())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"+17775550000"},
	}, t0); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// formatted spelling of the same phone number shares the cooldown key
	err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"+1 777 555 0000"},
	}, t0.Add(time.Second))
	if kindOf(t, err) != KindRecipientCooldown {
		t.Fatalf("expected RECIPIENT_COOLDOWN for formatted variant, got %v", err)
	}

	// whatsapp jid spelling too
	err = g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"17775550000@s.whatsapp.net"},
	}, t0.Add(2*time.Second))
	if kindOf(t, err) != KindRecipientCooldown {
		t.Fatalf("expected RECIPIENT_COOLDOWN for jid variant, got %v", err)
	}
}

func TestCheckAndReserve_ZeroWindowDisablesCooldowns(t *testing.T) {
	cfg := testLimits()
	cfg.RecipientCooldownSec = 0
	cfg.DomainCooldownSec = 0
	g := NewGovernor(NewMemStore(), cfg)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := g.CheckAndReserve(context.Background(), SendCheck{
			AccountID:  "a1",
			Recipients: []string{"x@same.com"},
		}, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("send %d with disabled cooldowns: %v", i+1, err)
		}
	}

	// counters still apply; only the cooldown checks are off
	if err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"x@same.com"},
	}, t0.Add(2*time.Second)); err != nil {
		t.Fatalf("third send: %v", err)
	}
	err := g.CheckAndReserve(context.Background(), SendCheck{
		AccountID:  "a1",
		Recipients: []string{"x@same.com"},
	}, t0.Add(3*time.Second))
	if kindOf(t, err) != KindHourlyCap {
		t.Fatalf("expected HOURLY_CAP, got %v", err)
	}
}
