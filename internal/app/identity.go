package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"reparts/api/internal/store"
)

// ResolveByEmail returns the id of the user registered with email, or
// sql.ErrNoRows.
func (s *Service) ResolveByEmail(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", sql.ErrNoRows
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// contactEmail looks up a subject's email for display. Failures yield "".
func (s *Service) contactEmail(ctx context.Context, subjectID string) string {
	if strings.TrimSpace(subjectID) == "" {
		return ""
	}
	user, err := s.store.GetUserByID(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("identity: lookup user %s: %v", subjectID, err)
		}
		return ""
	}
	return user.Email
}

// resolveSellerEmail is the best-effort form of ResolveByEmail used on hot
// paths: lookup errors are logged and reported as "not found".
func (s *Service) resolveSellerEmail(ctx context.Context, email string) string {
	sellerID, err := s.ResolveByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("identity: resolve %s: %v", email, err)
		}
		return ""
	}
	return sellerID
}

// fillSeller resolves a missing seller id from the thread's seller email for
// this response only, and queues the durable fix.
func (s *Service) fillSeller(ctx context.Context, chat *store.Chat) {
	if chat.SellerID != "" || strings.TrimSpace(chat.SellerEmail) == "" {
		return
	}
	sellerID := s.resolveSellerEmail(ctx, chat.SellerEmail)
	if sellerID == "" {
		return
	}
	chat.SellerID = sellerID
	s.repairs.Enqueue(chat.ID, sellerID)
}
