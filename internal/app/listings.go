package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"reparts/api/internal/rbac"
	"reparts/api/internal/search"
	"reparts/api/internal/store"
	"reparts/api/internal/util"
)

const (
	defaultPageLimit = 12
	maxPageLimit     = 100
)

type CreateListingInput struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	Price       float64  `json:"price" validate:"gt=0,lte=9999999999"`
	Category    string   `json:"category" validate:"required,oneof=laptop phone tablet accessory other"`
	Images      []string `json:"images" validate:"max=12,dive,url"`
}

// UpdateListingInput is a partial update. SellerID is accepted so clients can
// echo a full listing back, but it is never applied.
type UpdateListingInput struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Price       *float64  `json:"price"`
	Category    *string   `json:"category"`
	Images      *[]string `json:"images"`
	SellerID    *string   `json:"sellerId"`
}

func (in UpdateListingInput) patch() (store.ListingPatch, error) {
	var patch store.ListingPatch
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := validateField("title", title, "required,max=200"); err != nil {
			return patch, err
		}
		patch.Title = &title
	}
	if in.Description != nil {
		if err := validateField("description", *in.Description, "max=5000"); err != nil {
			return patch, err
		}
		patch.Description = in.Description
	}
	if in.Price != nil {
		price := roundCents(*in.Price)
		if err := validateField("price", price, "gt=0,lte=9999999999"); err != nil {
			return patch, err
		}
		patch.Price = &price
	}
	if in.Category != nil {
		if err := validateField("category", *in.Category, "required,oneof=laptop phone tablet accessory other"); err != nil {
			return patch, err
		}
		patch.Category = in.Category
	}
	if in.Images != nil {
		images := *in.Images
		if images == nil {
			images = []string{}
		}
		if err := validateField("images", images, "max=12,dive,url"); err != nil {
			return patch, err
		}
		patch.Images = &images
	}
	return patch, nil
}

// CreateListing stores a listing owned by seller and pushes it to the search
// index. The index write is best effort; the outbox retries it.
func (s *Service) CreateListing(ctx context.Context, seller Session, input CreateListingInput) (string, error) {
	if !s.Can(seller.Role, rbac.ActionSell) {
		return "", forbidden("Forbidden")
	}
	input.Title = strings.TrimSpace(input.Title)
	// Prices are stored in cents, so a positive price that rounds to zero is rejected.
	input.Price = roundCents(input.Price)
	if err := validate.Struct(input); err != nil {
		return "", validationError(err)
	}

	id := util.NewID()
	createdAt := s.now()
	item := store.Listing{
		ID:          id,
		ObjectID:    id,
		Title:       input.Title,
		Description: input.Description,
		Price:       input.Price,
		Category:    input.Category,
		Images:      input.Images,
		SellerID:    seller.UserID,
		CreatedAt:   &createdAt,
	}
	if item.Images == nil {
		item.Images = []string{}
	}

	opID, err := s.store.CreateListing(ctx, item)
	if err != nil {
		return "", err
	}
	_ = s.index.Upsert(ctx, search.RecordFromListing(item), opID)
	return id, nil
}

// GetListing returns the listing with its seller's contact email.
func (s *Service) GetListing(ctx context.Context, listingID string) (map[string]any, error) {
	item, err := s.store.GetListing(ctx, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Listing not found")
	}
	if err != nil {
		return nil, err
	}
	payload := listingPayload(item)
	payload["sellerEmail"] = s.contactEmail(ctx, item.SellerID)
	return payload, nil
}

// ListListings returns one page of listings, newest first. Listings without a
// creation time sort as the Unix epoch; ties are ordered by id.
func (s *Service) ListListings(ctx context.Context, sellerID string, page, limit int) ([]map[string]any, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	items, err := s.store.ListListings(ctx, store.ListingFilter{SellerID: strings.TrimSpace(sellerID)})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(items)

	start := (page - 1) * limit
	if start >= len(items) {
		return []map[string]any{}, nil
	}
	end := min(start+limit, len(items))

	result := make([]map[string]any, 0, end-start)
	for _, item := range items[start:end] {
		result = append(result, listingPayload(item))
	}
	return result, nil
}

// UpdateListing applies a partial update for the listing's owner.
func (s *Service) UpdateListing(ctx context.Context, listingID string, caller Session, input UpdateListingInput) error {
	existing, err := s.ownedListing(ctx, listingID, caller)
	if err != nil {
		return err
	}
	patch, err := input.patch()
	if err != nil {
		return err
	}
	if patch.Empty() {
		return invalid("no updatable fields", nil)
	}

	opID, err := s.store.UpdateListing(ctx, existing.ID, patch)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Listing not found")
	}
	if err != nil {
		return err
	}

	updated, err := s.store.GetListing(ctx, existing.ID)
	if err != nil {
		log.Printf("listings: reload %s for indexing: %v", existing.ID, err)
		return nil
	}
	_ = s.index.Upsert(ctx, search.RecordFromListing(updated), opID)
	return nil
}

// DeleteListing removes the owner's listing and its index record.
func (s *Service) DeleteListing(ctx context.Context, listingID string, caller Session) error {
	existing, err := s.ownedListing(ctx, listingID, caller)
	if err != nil {
		return err
	}
	opID, err := s.store.DeleteListing(ctx, existing.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Listing not found")
	}
	if err != nil {
		return err
	}
	_ = s.index.Remove(ctx, existing.ID, opID)
	return nil
}

func (s *Service) ownedListing(ctx context.Context, listingID string, caller Session) (store.Listing, error) {
	item, err := s.store.GetListing(ctx, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Listing{}, notFound("Listing not found")
	}
	if err != nil {
		return store.Listing{}, err
	}
	if item.SellerID != caller.UserID {
		return store.Listing{}, forbidden("Forbidden")
	}
	return item, nil
}

func sortNewestFirst(items []store.Listing) {
	created := func(item store.Listing) time.Time {
		if item.CreatedAt == nil {
			return time.Unix(0, 0)
		}
		return *item.CreatedAt
	}
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := created(items[i]), created(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return items[i].ID < items[j].ID
	})
}

func listingPayload(item store.Listing) map[string]any {
	images := item.Images
	if images == nil {
		images = []string{}
	}
	return map[string]any{
		"id":          item.ID,
		"objectId":    item.ObjectID,
		"title":       item.Title,
		"description": item.Description,
		"price":       item.Price,
		"category":    item.Category,
		"images":      images,
		"sellerId":    item.SellerID,
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
}

func roundCents(value float64) float64 {
	return math.Round(value*100) / 100
}
