package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"reparts/api/internal/rbac"
)

var errAdminOnly = forbidden("Admin only")

// BanUser marks uid as banned. Banned users are refused on every
// authenticated route from their next request on.
func (s *Service) BanUser(ctx context.Context, caller Session, uid string) error {
	if !s.Can(caller.Role, rbac.ActionModerate) {
		return errAdminOnly
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return invalid("user id is required", nil)
	}
	err := s.store.SetUserBanned(ctx, uid, true)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("User not found")
	}
	if err != nil {
		return err
	}
	log.Printf("admin: %s banned user %s", caller.UserID, uid)
	return nil
}

// Reindex pushes every listing to the search index.
func (s *Service) Reindex(ctx context.Context, caller Session) (int, error) {
	if !s.Can(caller.Role, rbac.ActionModerate) {
		return 0, errAdminOnly
	}
	count, err := s.index.Reindex(ctx)
	if err != nil {
		return count, err
	}
	log.Printf("admin: %s reindexed %d listings", caller.UserID, count)
	return count, nil
}
