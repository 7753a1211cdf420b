package search

import (
	"context"

	"reparts/api/internal/store"
)

// ListingRecord is the document we index for a listing. ObjectID is the
// index primary key and always equals ID.
type ListingRecord struct {
	ObjectID    string   `json:"objectId"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Images      []string `json:"images"`
	SellerID    string   `json:"sellerId"`
	// Unix milliseconds so the index can sort on them.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// RecordFromListing projects a stored listing into its index document.
func RecordFromListing(item store.Listing) ListingRecord {
	rec := ListingRecord{
		ObjectID:    item.ID,
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Price:       item.Price,
		Category:    item.Category,
		Images:      item.Images,
		SellerID:    item.SellerID,
	}
	if rec.Images == nil {
		rec.Images = []string{}
	}
	if item.CreatedAt != nil {
		rec.CreatedAt = item.CreatedAt.UnixMilli()
	}
	if item.UpdatedAt != nil {
		rec.UpdatedAt = item.UpdatedAt.UnixMilli()
	}
	return rec
}

// Query describes a search request.
type Query struct {
	Text     string
	Category string
	SellerID string
	Limit    int
	Offset   int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
	SellerID string  `json:"sellerId"`
	Image    string  `json:"image,omitempty"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push listings into a search index.
type Indexer interface {
	IndexListing(rec ListingRecord) error
	IndexListings(recs []ListingRecord) error
	DeleteListing(id string) error
	Healthy() bool
}

// NopIndexer accepts every write. It stands in when no index is configured
// so the outbox still drains.
type NopIndexer struct{}

func (NopIndexer) IndexListing(ListingRecord) error    { return nil }
func (NopIndexer) IndexListings([]ListingRecord) error { return nil }
func (NopIndexer) DeleteListing(string) error          { return nil }
func (NopIndexer) Healthy() bool                       { return true }

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
