package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sort"
	"strings"

	"reparts/api/internal/lock"
	"reparts/api/internal/metrics"
	"reparts/api/internal/rbac"
	"reparts/api/internal/store"
	"reparts/api/internal/util"
)

// FindOrCreateChatInput opens a thread about a listing. BuyerID is always the
// caller; a buyerId in the body is ignored.
type FindOrCreateChatInput struct {
	ListingID      string `json:"listingId" validate:"required,max=64"`
	SellerID       string `json:"sellerId" validate:"max=64"`
	SellerEmail    string `json:"sellerEmail" validate:"omitempty,email"`
	BuyerEmail     string `json:"buyerEmail" validate:"omitempty,email"`
	InitialMessage string `json:"initialMessage" validate:"max=4000"`
}

// FindOrCreateChat returns the caller's thread with the seller about a
// listing, creating it when none exists. created reports whether a new
// thread was inserted.
func (s *Service) FindOrCreateChat(ctx context.Context, buyer Session, input FindOrCreateChatInput) (store.Chat, bool, error) {
	if !s.Can(buyer.Role, rbac.ActionMessage) {
		return store.Chat{}, false, forbidden("Forbidden")
	}
	input.ListingID = strings.TrimSpace(input.ListingID)
	input.SellerID = strings.TrimSpace(input.SellerID)
	input.SellerEmail = strings.TrimSpace(input.SellerEmail)
	if err := validate.Struct(input); err != nil {
		return store.Chat{}, false, validationError(err)
	}

	sellerID, sellerEmail := s.resolveChatSeller(ctx, input)
	if sellerID == buyer.UserID || (sellerEmail != "" && strings.EqualFold(sellerEmail, buyer.Email)) {
		return store.Chat{}, false, errChatWithYourself
	}

	release, err := s.locker.Acquire(ctx, lock.ChatKey(buyer.UserID, sellerID, input.ListingID))
	if err != nil {
		metrics.ChatLockErrors.Inc()
		log.Printf("chat: lock for buyer %s listing %s: %v", buyer.UserID, input.ListingID, err)
		release = func() {}
	}
	defer release()

	existing, err := s.store.FindChats(ctx, store.ChatFilter{
		BuyerID:   buyer.UserID,
		SellerID:  sellerID,
		ListingID: input.ListingID,
	})
	if err != nil {
		return store.Chat{}, false, err
	}

	chat, created := store.Chat{}, false
	if len(existing) > 0 {
		chat = earliestChat(existing)
	} else {
		buyerEmail := buyer.Email
		if buyerEmail == "" {
			buyerEmail = input.BuyerEmail
		}
		now := s.now()
		chat, created, err = s.store.InsertChat(ctx, store.Chat{
			ID:          util.NewID(),
			BuyerID:     buyer.UserID,
			BuyerEmail:  buyerEmail,
			SellerID:    sellerID,
			SellerEmail: sellerEmail,
			ListingID:   input.ListingID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return store.Chat{}, false, err
		}
	}
	if created {
		metrics.ChatThreads.WithLabelValues("created").Inc()
	} else {
		metrics.ChatThreads.WithLabelValues("reused").Inc()
	}

	if text := strings.TrimSpace(input.InitialMessage); text != "" {
		if _, err := s.appendMessage(ctx, chat.ID, buyer, text); err != nil {
			return store.Chat{}, false, err
		}
	}
	return chat, created, nil
}

// resolveChatSeller settles the seller for a new thread. An explicit id wins,
// then the registered user behind sellerEmail, then the listing's owner.
func (s *Service) resolveChatSeller(ctx context.Context, input FindOrCreateChatInput) (string, string) {
	sellerID, sellerEmail := input.SellerID, input.SellerEmail
	if sellerID == "" && sellerEmail != "" {
		sellerID = s.resolveSellerEmail(ctx, sellerEmail)
	}
	if sellerID == "" && sellerEmail == "" {
		item, err := s.store.GetListing(ctx, input.ListingID)
		switch {
		case err == nil:
			sellerID = item.SellerID
		case !errors.Is(err, sql.ErrNoRows):
			log.Printf("chat: load listing %s for seller: %v", input.ListingID, err)
		}
	}
	if sellerEmail == "" && sellerID != "" {
		sellerEmail = s.contactEmail(ctx, sellerID)
	}
	return sellerID, sellerEmail
}

// ListChatsForParty returns the threads where subjectID is buyer or seller,
// most recently active first. With listingID every thread on that listing is
// loaded and its seller filled in before filtering, so threads that only
// carry a seller email still reach their seller.
func (s *Service) ListChatsForParty(ctx context.Context, subjectID, listingID string) ([]store.Chat, error) {
	listingID = strings.TrimSpace(listingID)
	filters := []store.ChatFilter{
		{BuyerID: subjectID},
		{SellerID: subjectID},
	}
	if listingID != "" {
		filters = []store.ChatFilter{{ListingID: listingID}}
	}

	seen := make(map[string]struct{})
	chats := make([]store.Chat, 0)
	for _, filter := range filters {
		items, err := s.store.FindChats(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			s.fillSeller(ctx, &item)
			if item.BuyerID != subjectID && item.SellerID != subjectID {
				continue
			}
			chats = append(chats, item)
		}
	}

	sort.SliceStable(chats, func(i, j int) bool {
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
	return chats, nil
}

// participantChat loads a thread the caller takes part in.
func (s *Service) participantChat(ctx context.Context, chatID string, caller Session) (store.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chat{}, notFound("Chat not found")
	}
	if err != nil {
		return store.Chat{}, err
	}
	s.fillSeller(ctx, &chat)
	if chat.BuyerID != caller.UserID && chat.SellerID != caller.UserID {
		return store.Chat{}, forbidden("Forbidden")
	}
	return chat, nil
}

func earliestChat(chats []store.Chat) store.Chat {
	best := chats[0]
	for _, item := range chats[1:] {
		if item.CreatedAt.Before(best.CreatedAt) || (item.CreatedAt.Equal(best.CreatedAt) && item.ID < best.ID) {
			best = item
		}
	}
	return best
}

func chatPayload(chat store.Chat) map[string]any {
	return map[string]any{
		"id":          chat.ID,
		"buyerId":     chat.BuyerID,
		"buyerEmail":  optional(chat.BuyerEmail),
		"sellerId":    optional(chat.SellerID),
		"sellerEmail": optional(chat.SellerEmail),
		"listingId":   chat.ListingID,
		"createdAt":   chat.CreatedAt,
		"updatedAt":   chat.UpdatedAt,
	}
}

// optional renders an unknown value as JSON null.
func optional(value string) any {
	if value == "" {
		return nil
	}
	return value
}
