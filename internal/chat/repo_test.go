package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}, &Chat{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedAccount(t *testing.T, repo *Repo, provider, identity string) *Account {
	t.Helper()
	accID, err := NewAccountID()
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	a := &Account{
		AccountID:  accID,
		UserID:     1,
		Provider:   provider,
		ExternalID: "conn-" + accID,
		Identity:   identity,
		Status:     AccountConnected,
	}
	if err := repo.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func TestGetOrCreateChat_DuplicateKeyReturnsWinner(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	acc := seedAccount(t, repo, "whatsapp", "+15550001111")

	first := &Chat{ChatID: "01CHAT0000000000000000000A", AccountID: acc.ID, IdentityKey: "17775550000", Title: "Alice"}
	ch1, created, err := repo.GetOrCreateChat(context.Background(), first)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected first insert to create")
	}

	second := &Chat{ChatID: "01CHAT0000000000000000000B", AccountID: acc.ID, IdentityKey: "17775550000", Title: "Alice B"}
	ch2, created, err := repo.GetOrCreateChat(context.Background(), second)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("expected constraint to reject second insert")
	}
	if ch2.ID != ch1.ID {
		t.Fatalf("expected winner row, got id=%d want %d", ch2.ID, ch1.ID)
	}

	var count int64
	if err := db.Model(&Chat{}).Where("account_id = ?", acc.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 chat, got %d", count)
	}
}

func TestUpsertMessage_ReplayIsNoOp(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	acc := seedAccount(t, repo, "whatsapp", "+15550001111")

	ch, _, err := repo.GetOrCreateChat(context.Background(), &Chat{
		ChatID: "01CHAT0000000000000000000C", AccountID: acc.ID, IdentityKey: "17775550000",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	m1 := &Message{
		MessageID: "01MSG00000000000000000000A", ChatID: ch.ID, ExternalID: "m1",
		Direction: "inbound", SenderID: "+17775550000", Body: "hi",
		Status: StatusDelivered, SentAt: time.Now().UTC(),
	}
	_, created, err := repo.UpsertMessage(context.Background(), m1)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatalf("expected create")
	}

	replay := &Message{
		MessageID: "01MSG00000000000000000000B", ChatID: ch.ID, ExternalID: "m1",
		Direction: "inbound", SenderID: "+17775550000", Body: "hi",
		Status: StatusDelivered, SentAt: time.Now().UTC(),
	}
	got, created, err := repo.UpsertMessage(context.Background(), replay)
	if err != nil {
		t.Fatalf("replay upsert: %v", err)
	}
	if created {
		t.Fatalf("replay must not create a second row")
	}
	if got.MessageID != m1.MessageID {
		t.Fatalf("expected original row back, got %s", got.MessageID)
	}

	var count int64
	if err := db.Model(&Message{}).Where("chat_id = ?", ch.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 message, got %d", count)
	}
}

func TestAdvanceMessageStatus_ForwardOnly(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	acc := seedAccount(t, repo, "whatsapp", "+15550001111")

	ch, _, err := repo.GetOrCreateChat(context.Background(), &Chat{
		ChatID: "01CHAT0000000000000000000D", AccountID: acc.ID, IdentityKey: "17775550000",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	_, _, err = repo.UpsertMessage(context.Background(), &Message{
		MessageID: "01MSG00000000000000000000C", ChatID: ch.ID, ExternalID: "m1",
		Direction: "outbound", SenderID: "+15550001111", Body: "hello",
		Status: StatusSent, SentAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := repo.AdvanceMessageStatus(context.Background(), ch.ID, "m1", StatusRead); err != nil {
		t.Fatalf("advance to read: %v", err)
	}
	// a late delivered receipt must not regress read
	if err := repo.AdvanceMessageStatus(context.Background(), ch.ID, "m1", StatusDelivered); err != nil {
		t.Fatalf("late delivered: %v", err)
	}

	var m Message
	if err := db.Where("chat_id = ? AND external_id = ?", ch.ID, "m1").First(&m).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Status != StatusRead {
		t.Fatalf("expected status read, got %s", m.Status)
	}
}

func TestMarkChatRead(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	acc := seedAccount(t, repo, "whatsapp", "+15550001111")

	ch, _, err := repo.GetOrCreateChat(context.Background(), &Chat{
		ChatID: "01CHAT0000000000000000000E", AccountID: acc.ID, IdentityKey: "17775550000",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	_, _, err = repo.UpsertMessage(context.Background(), &Message{
		MessageID: "01MSG00000000000000000000D", ChatID: ch.ID, ExternalID: "m1",
		Direction: "inbound", SenderID: "+17775550000", Body: "hi",
		Status: StatusDelivered, SentAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.IncrementUnread(context.Background(), ch.ID); err != nil {
		t.Fatalf("unread: %v", err)
	}

	if err := repo.MarkChatRead(context.Background(), ch.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	got, err := repo.GetChatByChatID(context.Background(), ch.ChatID)
	if err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	if got.UnreadCount != 0 {
		t.Fatalf("expected unread 0, got %d", got.UnreadCount)
	}
	var m Message
	if err := db.Where("chat_id = ?", ch.ID).First(&m).Error; err != nil {
		t.Fatalf("reload msg: %v", err)
	}
	if m.ReadAt == nil {
		t.Fatalf("expected read_at to be stamped")
	}
}
