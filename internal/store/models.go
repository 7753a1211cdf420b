package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	Banned       bool
	CreatedAt    time.Time
}

type Listing struct {
	ID          string
	ObjectID    string
	Title       string
	Description string
	Price       float64
	Category    string
	Images      []string
	SellerID    string
	// CreatedAt is nil for rows imported without a timestamp.
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// ListingPatch holds the listing fields an owner may change. Nil fields are
// left untouched.
type ListingPatch struct {
	Title       *string
	Description *string
	Price       *float64
	Category    *string
	Images      *[]string
}

func (p ListingPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil && p.Category == nil && p.Images == nil
}

type ListingFilter struct {
	SellerID string
}

type Chat struct {
	ID          string
	BuyerID     string
	BuyerEmail  string
	SellerID    string // empty until resolved
	SellerEmail string
	ListingID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatFilter is a conjunction of equality clauses; empty fields are ignored.
type ChatFilter struct {
	BuyerID   string
	SellerID  string
	ListingID string
}

func (f ChatFilter) Empty() bool {
	return f.BuyerID == "" && f.SellerID == "" && f.ListingID == ""
}

type Message struct {
	ID          int64
	ChatID      string
	SenderID    string
	SenderEmail string
	Text        string
	CreatedAt   time.Time
}

const (
	IndexOpUpsert = "upsert"
	IndexOpRemove = "remove"
)

// IndexOp is a pending search-index operation recorded alongside a listing
// mutation.
type IndexOp struct {
	ID          int64
	ListingID   string
	Op          string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
