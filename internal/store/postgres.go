package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateChat is returned when a write would give two threads the same
// (buyer, seller, listing) triple.
var ErrDuplicateChat = errors.New("duplicate chat thread")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

const userColumns = `id, email, display_name, password_hash, role, banned, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.Banned, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

// GetUserByEmail returns the first user with exactly this email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email=$1
		ORDER BY created_at, id
		LIMIT 1
	`, email))
}

func (s *PostgresStore) SetUserBanned(ctx context.Context, userID string, banned bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET banned=$2 WHERE id=$1`, userID, banned)
	if err != nil {
		return fmt.Errorf("set user banned: %w", err)
	}
	return requireAffected(result)
}

// Listings

const listingColumns = `id, object_id, title, description, price, category, images, seller_id, created_at, updated_at`

func scanListing(row interface{ Scan(...any) error }) (Listing, error) {
	var (
		item      Listing
		images    []byte
		createdAt sql.NullTime
		updatedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.ObjectID,
		&item.Title,
		&item.Description,
		&item.Price,
		&item.Category,
		&images,
		&item.SellerID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Listing{}, err
	}
	item.Images = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &item.Images); err != nil {
			return Listing{}, fmt.Errorf("decode listing images: %w", err)
		}
	}
	if createdAt.Valid {
		t := createdAt.Time
		item.CreatedAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		item.UpdatedAt = &t
	}
	return item, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, listingID string) (Listing, error) {
	return scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, listingID))
}

// ListListings returns every listing matching filter, unordered.
func (s *PostgresStore) ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	var args []any
	if filter.SellerID != "" {
		query += ` WHERE seller_id=$1`
		args = append(args, filter.SellerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	items := make([]Listing, 0)
	for rows.Next() {
		item, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return items, nil
}

// CreateListing inserts item and records an index upsert in the same
// transaction. It returns the outbox op id.
func (s *PostgresStore) CreateListing(ctx context.Context, item Listing) (int64, error) {
	images, err := encodeImages(item.Images)
	if err != nil {
		return 0, err
	}
	objectID := item.ObjectID
	if objectID == "" {
		objectID = item.ID
	}
	return s.withIndexOp(ctx, item.ID, IndexOpUpsert, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO listings (id, object_id, title, description, price, category, images, seller_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, COALESCE($9, NOW()))
		`, item.ID, objectID, item.Title, item.Description, item.Price, item.Category, images, item.SellerID, nullTime(item.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		return nil
	})
}

// UpdateListing applies patch, stamps updated_at and records an index upsert.
func (s *PostgresStore) UpdateListing(ctx context.Context, listingID string, patch ListingPatch) (int64, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{listingID}
	add := func(column string, value any, cast string) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d%s", column, len(args), cast))
	}
	if patch.Title != nil {
		add("title", *patch.Title, "")
	}
	if patch.Description != nil {
		add("description", *patch.Description, "")
	}
	if patch.Price != nil {
		add("price", *patch.Price, "")
	}
	if patch.Category != nil {
		add("category", *patch.Category, "")
	}
	if patch.Images != nil {
		images, err := encodeImages(*patch.Images)
		if err != nil {
			return 0, err
		}
		add("images", images, "::jsonb")
	}

	return s.withIndexOp(ctx, listingID, IndexOpUpsert, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE listings SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		return requireAffected(result)
	})
}

// DeleteListing removes the listing and records an index removal.
func (s *PostgresStore) DeleteListing(ctx context.Context, listingID string) (int64, error) {
	return s.withIndexOp(ctx, listingID, IndexOpRemove, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE id=$1`, listingID)
		if err != nil {
			return fmt.Errorf("delete listing: %w", err)
		}
		return requireAffected(result)
	})
}

func (s *PostgresStore) withIndexOp(ctx context.Context, listingID, op string, write func(*sql.Tx) error) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin listing tx: %w", err)
	}
	if err := write(tx); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	var opID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO index_outbox (listing_id, op) VALUES ($1, $2) RETURNING id
	`, listingID, op).Scan(&opID); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("record index op: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit listing tx: %w", err)
	}
	return opID, nil
}

// Index outbox

// PendingIndexOps returns unprocessed ops with fewer than maxAttempts
// failures, oldest first.
func (s *PostgresStore) PendingIndexOps(ctx context.Context, limit, maxAttempts int) ([]IndexOp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, op, attempts, last_error, created_at, processed_at
		FROM index_outbox
		WHERE processed_at IS NULL AND attempts < $2
		ORDER BY id
		LIMIT $1
	`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list pending index ops: %w", err)
	}
	defer rows.Close()

	items := make([]IndexOp, 0)
	for rows.Next() {
		var (
			item        IndexOp
			processedAt sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.ListingID, &item.Op, &item.Attempts, &item.LastError, &item.CreatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scan index op: %w", err)
		}
		if processedAt.Valid {
			t := processedAt.Time
			item.ProcessedAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index ops: %w", err)
	}
	return items, nil
}

// AckIndexOps marks every pending op for listingID up to and including upTo
// as processed.
func (s *PostgresStore) AckIndexOps(ctx context.Context, listingID string, upTo int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_outbox
		SET processed_at=NOW()
		WHERE listing_id=$1 AND id<=$2 AND processed_at IS NULL
	`, listingID, upTo)
	if err != nil {
		return fmt.Errorf("ack index ops: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailIndexOp(ctx context.Context, opID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_outbox SET attempts=attempts+1, last_error=$2 WHERE id=$1
	`, opID, reason)
	if err != nil {
		return fmt.Errorf("fail index op: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingIndexOpCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM index_outbox WHERE processed_at IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending index ops: %w", err)
	}
	return count, nil
}

// Chats

const chatColumns = `id, buyer_id, buyer_email, seller_id, seller_email, listing_id, created_at, updated_at`

func scanChat(row interface{ Scan(...any) error }) (Chat, error) {
	var (
		item        Chat
		buyerEmail  sql.NullString
		sellerID    sql.NullString
		sellerEmail sql.NullString
	)
	if err := row.Scan(&item.ID, &item.BuyerID, &buyerEmail, &sellerID, &sellerEmail, &item.ListingID, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Chat{}, err
	}
	item.BuyerEmail = buyerEmail.String
	item.SellerID = sellerID.String
	item.SellerEmail = sellerEmail.String
	return item, nil
}

func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (Chat, error) {
	return scanChat(s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID))
}

// FindChats returns threads matching every non-empty field of filter, oldest
// first.
func (s *PostgresStore) FindChats(ctx context.Context, filter ChatFilter) ([]Chat, error) {
	if filter.Empty() {
		return nil, errors.New("find chats: empty filter")
	}
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("buyer_id", filter.BuyerID)
	add("seller_id", filter.SellerID)
	add("listing_id", filter.ListingID)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}
	defer rows.Close()

	items := make([]Chat, 0)
	for rows.Next() {
		item, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return items, nil
}

// InsertChat creates item. When a thread already holds the same
// (buyer, seller, listing) triple that thread is returned with created=false.
func (s *PostgresStore) InsertChat(ctx context.Context, item Chat) (Chat, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, buyer_id, buyer_email, seller_id, seller_email, listing_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (buyer_id, seller_id, listing_id) DO NOTHING
	`, item.ID, item.BuyerID, nullIfEmpty(item.BuyerEmail), nullIfEmpty(item.SellerID), nullIfEmpty(item.SellerEmail), item.ListingID, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return Chat{}, false, fmt.Errorf("insert chat: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 1 {
		return item, true, nil
	}

	existing, err := scanChat(s.db.QueryRowContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE buyer_id=$1 AND listing_id=$2 AND seller_id IS NOT DISTINCT FROM $3
		ORDER BY created_at, id
		LIMIT 1
	`, item.BuyerID, item.ListingID, nullIfEmpty(item.SellerID)))
	if err != nil {
		return Chat{}, false, fmt.Errorf("load conflicting chat: %w", err)
	}
	return existing, false, nil
}

// SetChatSeller fills in a missing seller id. Threads that already have a
// seller are left alone, so repeating the call is harmless.
func (s *PostgresStore) SetChatSeller(ctx context.Context, chatID, sellerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET seller_id=$2 WHERE id=$1 AND seller_id IS NULL`, chatID, sellerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateChat
		}
		return fmt.Errorf("set chat seller: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at=GREATEST(updated_at, $2) WHERE id=$1`, chatID, at)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return requireAffected(result)
}

// Messages

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, sender_email, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ChatID, item.SenderID, item.SenderEmail, item.Text, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the thread's messages by (created_at, id) ascending.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, sender_email, text, created_at
		FROM messages
		WHERE chat_id=$1
		ORDER BY created_at, id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ChatID, &item.SenderID, &item.SenderEmail, &item.Text, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	raw, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encode listing images: %w", err)
	}
	return string(raw), nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
