package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// openTestDB connects to TEST_DATABASE_URL or skips the test.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	db, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func migratedStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()
	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	fsys, err := MigrationsFS("")
	if err != nil {
		t.Fatalf("open migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, fsys); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestListingMutationsRecordIndexOps(t *testing.T) {
	s, ctx := migratedStore(t)

	createOp, err := s.CreateListing(ctx, Listing{
		ID:       "lst-1",
		Title:    "ThinkPad T480",
		Price:    100,
		Category: "laptop",
		Images:   []string{"https://img.example/1.jpg"},
		SellerID: "seller-1",
	})
	if err != nil {
		t.Fatalf("CreateListing() error = %v", err)
	}

	got, err := s.GetListing(ctx, "lst-1")
	if err != nil {
		t.Fatalf("GetListing() error = %v", err)
	}
	if got.ObjectID != "lst-1" {
		t.Fatalf("expected object id to equal listing id, got %q", got.ObjectID)
	}
	if got.Price != 100 || got.SellerID != "seller-1" || len(got.Images) != 1 {
		t.Fatalf("unexpected listing: %+v", got)
	}
	if got.CreatedAt == nil {
		t.Fatal("expected created_at to be assigned")
	}

	price := 150.0
	updateOp, err := s.UpdateListing(ctx, "lst-1", ListingPatch{Price: &price})
	if err != nil {
		t.Fatalf("UpdateListing() error = %v", err)
	}
	if updateOp <= createOp {
		t.Fatalf("expected update op %d after create op %d", updateOp, createOp)
	}

	ops, err := s.PendingIndexOps(ctx, 10, 5)
	if err != nil {
		t.Fatalf("PendingIndexOps() error = %v", err)
	}
	if len(ops) != 2 || ops[0].Op != IndexOpUpsert || ops[1].Op != IndexOpUpsert {
		t.Fatalf("expected two pending upserts, got %+v", ops)
	}

	if err := s.AckIndexOps(ctx, "lst-1", createOp); err != nil {
		t.Fatalf("AckIndexOps() error = %v", err)
	}
	count, err := s.PendingIndexOpCount(ctx)
	if err != nil {
		t.Fatalf("PendingIndexOpCount() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending op after partial ack, got %d", count)
	}

	if _, err := s.DeleteListing(ctx, "lst-1"); err != nil {
		t.Fatalf("DeleteListing() error = %v", err)
	}
	if _, err := s.GetListing(ctx, "lst-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows after delete, got %v", err)
	}
	if _, err := s.DeleteListing(ctx, "lst-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows deleting twice, got %v", err)
	}
}

func TestFailedListingWriteLeavesNoIndexOp(t *testing.T) {
	s, ctx := migratedStore(t)

	price := 10.0
	if _, err := s.UpdateListing(ctx, "missing", ListingPatch{Price: &price}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	count, err := s.PendingIndexOpCount(ctx)
	if err != nil {
		t.Fatalf("PendingIndexOpCount() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rolled back outbox, got %d pending ops", count)
	}
}

func TestListingSellerIsImmutable(t *testing.T) {
	s, ctx := migratedStore(t)
	if _, err := s.CreateListing(ctx, Listing{ID: "lst-1", Title: "Phone", Price: 5, Category: "phone", SellerID: "seller-1"}); err != nil {
		t.Fatalf("CreateListing() error = %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `UPDATE listings SET seller_id='other' WHERE id='lst-1'`); err == nil {
		t.Fatal("expected seller_id update to be rejected")
	}
}

func TestInsertChatResolvesConflicts(t *testing.T) {
	s, ctx := migratedStore(t)
	now := time.Now().UTC()

	first, created, err := s.InsertChat(ctx, Chat{ID: "chat-1", BuyerID: "buyer", ListingID: "lst-1", CreatedAt: now, UpdatedAt: now})
	if err != nil || !created {
		t.Fatalf("InsertChat() = %+v, %v, %v", first, created, err)
	}
	second, created, err := s.InsertChat(ctx, Chat{ID: "chat-2", BuyerID: "buyer", ListingID: "lst-1", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("InsertChat() error = %v", err)
	}
	if created || second.ID != "chat-1" {
		t.Fatalf("expected conflict to resolve to chat-1, got %+v created=%v", second, created)
	}

	if _, created, err := s.InsertChat(ctx, Chat{ID: "chat-3", BuyerID: "buyer", SellerID: "seller", ListingID: "lst-1", CreatedAt: now, UpdatedAt: now}); err != nil || !created {
		t.Fatalf("expected distinct seller to create a thread, created=%v err=%v", created, err)
	}

	// Resolving chat-1 to the same seller would duplicate chat-3.
	if err := s.SetChatSeller(ctx, "chat-1", "seller"); !errors.Is(err, ErrDuplicateChat) {
		t.Fatalf("expected ErrDuplicateChat, got %v", err)
	}
}

func TestSetChatSellerIsIdempotent(t *testing.T) {
	s, ctx := migratedStore(t)
	now := time.Now().UTC()
	if _, _, err := s.InsertChat(ctx, Chat{ID: "chat-1", BuyerID: "buyer", SellerEmail: "s@x.com", ListingID: "lst-1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertChat() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.SetChatSeller(ctx, "chat-1", "seller"); err != nil {
			t.Fatalf("SetChatSeller() pass %d error = %v", i, err)
		}
	}
	if err := s.SetChatSeller(ctx, "chat-1", "someone-else"); err != nil {
		t.Fatalf("SetChatSeller() error = %v", err)
	}
	chat, err := s.GetChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if chat.SellerID != "seller" {
		t.Fatalf("expected seller to stay resolved, got %q", chat.SellerID)
	}

	found, err := s.FindChats(ctx, ChatFilter{SellerID: "seller", ListingID: "lst-1"})
	if err != nil {
		t.Fatalf("FindChats() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != "chat-1" {
		t.Fatalf("unexpected chats: %+v", found)
	}
}

func TestListMessagesOrdersByCreatedAtThenID(t *testing.T) {
	s, ctx := migratedStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)
	if _, _, err := s.InsertChat(ctx, Chat{ID: "chat-1", BuyerID: "buyer", SellerID: "seller", ListingID: "lst-1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertChat() error = %v", err)
	}
	messages := []Message{
		{ID: 30, ChatID: "chat-1", SenderID: "buyer", Text: "third", CreatedAt: now.Add(time.Second)},
		{ID: 20, ChatID: "chat-1", SenderID: "seller", Text: "second", CreatedAt: now},
		{ID: 10, ChatID: "chat-1", SenderID: "buyer", Text: "first", CreatedAt: now},
	}
	for _, m := range messages {
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage() error = %v", err)
		}
	}
	got, err := s.ListMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, m := range got {
		if m.Text != want[i] {
			t.Fatalf("message %d = %q, want %q", i, m.Text, want[i])
		}
	}
}

func TestGetUserByEmail(t *testing.T) {
	s, ctx := migratedStore(t)
	if _, err := s.DB().ExecContext(ctx, `INSERT INTO users (id, email, role) VALUES ('u-1', 's@x.com', 'user')`); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	user, err := s.GetUserByEmail(ctx, "s@x.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if user.ID != "u-1" {
		t.Fatalf("expected u-1, got %q", user.ID)
	}
	if _, err := s.GetUserByEmail(ctx, "nobody@x.com"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if err := s.SetUserBanned(ctx, "u-1", true); err != nil {
		t.Fatalf("SetUserBanned() error = %v", err)
	}
	if err := s.SetUserBanned(ctx, "missing", true); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
