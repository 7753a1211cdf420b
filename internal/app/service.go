package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"reparts/api/internal/auth"
	"reparts/api/internal/authpw"
	"reparts/api/internal/config"
	"reparts/api/internal/lock"
	"reparts/api/internal/media"
	"reparts/api/internal/rbac"
	"reparts/api/internal/search"
	"reparts/api/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	Email     string
	Role      string
	ExpiresAt time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	SetUserBanned(context.Context, string, bool) error
	GetListing(context.Context, string) (store.Listing, error)
	ListListings(context.Context, store.ListingFilter) ([]store.Listing, error)
	CreateListing(context.Context, store.Listing) (int64, error)
	UpdateListing(context.Context, string, store.ListingPatch) (int64, error)
	DeleteListing(context.Context, string) (int64, error)
	GetChat(context.Context, string) (store.Chat, error)
	FindChats(context.Context, store.ChatFilter) ([]store.Chat, error)
	InsertChat(context.Context, store.Chat) (store.Chat, bool, error)
	SetChatSeller(context.Context, string, string) error
	TouchChat(context.Context, string, time.Time) error
	InsertMessage(context.Context, store.Message) error
	ListMessages(context.Context, string) ([]store.Message, error)
	Ping(ctx context.Context) error
}

type indexSync interface {
	Upsert(context.Context, search.ListingRecord, int64) error
	Remove(context.Context, string, int64) error
	Reindex(context.Context) (int, error)
}

type nopIndexSync struct{}

func (nopIndexSync) Upsert(context.Context, search.ListingRecord, int64) error { return nil }
func (nopIndexSync) Remove(context.Context, string, int64) error              { return nil }
func (nopIndexSync) Reindex(context.Context) (int, error)                     { return 0, nil }

type searcher interface {
	Search(context.Context, search.Query) search.Response
	Healthy() bool
}

type uploadSigner interface {
	SignUpload(ctx context.Context, ownerID, filename, contentType string) (media.Upload, error)
}

type passwordAuth interface {
	SignIn(ctx context.Context, email, password string) (store.User, error)
}

// Dependencies are the collaborators a Service is built from. Only Store is
// required; the rest fall back to no-op or disabled behaviour.
type Dependencies struct {
	Store     dataStore
	Index     indexSync
	Search    searcher
	Uploads   uploadSigner
	Locker    lock.Locker
	Repairs   *RepairQueue
	Passwords passwordAuth
}

type Service struct {
	cfg       config.Config
	store     dataStore
	index     indexSync
	search    searcher
	uploads   uploadSigner
	locker    lock.Locker
	repairs   *RepairQueue
	passwords passwordAuth
	now       func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		index:     deps.Index,
		search:    deps.Search,
		uploads:   deps.Uploads,
		locker:    deps.Locker,
		repairs:   deps.Repairs,
		passwords: deps.Passwords,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.index == nil {
		s.index = nopIndexSync{}
	}
	if s.locker == nil {
		s.locker = lock.NopLocker{}
	}
	if s.repairs == nil {
		s.repairs = NewRepairQueue(deps.Store, cfg.RepairQueueSize)
	}
	return s
}

// SignIn checks email and password and issues an access token.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.passwords == nil {
		return Session{}, errAuthUnavailable
	}
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrInvalidCredentials):
			return Session{}, errBadCredentials
		case errors.Is(err, authpw.ErrBanned):
			return Session{}, errAccountBanned
		}
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	role := string(rbac.Normalize(user.Role))
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Email, role, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      role,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken verifies token and loads the caller. Role and banned flag
// always come from the users table, never from the token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if user.Banned {
		return Session{}, errAccountBanned
	}

	session := Session{
		Token:  token,
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(rbac.Normalize(user.Role)),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Search queries the listings index, falling back to Postgres.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// SignUpload presigns a listing image upload for the caller.
func (s *Service) SignUpload(ctx context.Context, session Session, filename, contentType string) (media.Upload, error) {
	if s.uploads == nil {
		return media.Upload{}, errUploadsDisabled
	}
	upload, err := s.uploads.SignUpload(ctx, session.UserID, filename, contentType)
	if errors.Is(err, media.ErrUnsupportedType) {
		return media.Upload{}, invalid("contentType must be an image type", map[string]string{"contentType": "image"})
	}
	return upload, err
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SearchHealthy reports whether the primary search index is serving.
func (s *Service) SearchHealthy() bool {
	return s.search != nil && s.search.Healthy()
}
