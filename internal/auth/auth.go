// Package auth implements opaque-token authentication, the permission
// ranks and the root account bootstrap.
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
)

// Permission ranks. Higher ranks inherit everything below.
const (
	RankUser       = 0
	RankModerator  = 64
	RankAdmin      = 128
	RankSuperadmin = 256
)

// GroupName maps a rank to its usergroup label.
func GroupName(rank int) string {
	switch {
	case rank >= RankSuperadmin:
		return "superadmin"
	case rank >= RankAdmin:
		return "admin"
	case rank >= RankModerator:
		return "moderator"
	default:
		return "user"
	}
}

// Service authenticates tokens and manages accounts.
type Service struct {
	Queries        *db.Queries
	AccountsOpen   bool
	FailureLimiter *FailureLimiter
}

// ByToken resolves the token header to an enabled user.
func (s *Service) ByToken(ctx context.Context, token string) (db.User, error) {
	if token == "" {
		return db.User{}, apperror.ErrInvalidToken
	}
	user, err := s.Queries.GetUserByToken(ctx, token)
	if err != nil {
		return db.User{}, apperror.ErrInvalidToken
	}
	if !user.Enabled {
		return db.User{}, apperror.New("This account has been disabled", 403)
	}
	return user, nil
}

// Login verifies credentials and returns the account token. Failures count
// against the caller IP's rate budget.
func (s *Service) Login(ctx context.Context, ip, username, password string) (db.User, error) {
	if s.FailureLimiter != nil && !s.FailureLimiter.Allow(ctx, ip) {
		return db.User{}, apperror.ErrRateLimited
	}
	user, err := s.Queries.GetUserByUsername(ctx, username)
	if err != nil || CheckPassword(password, user.Password) != nil {
		s.recordFailure(ctx, ip)
		return db.User{}, apperror.ErrInvalidCredentials
	}
	if !user.Enabled {
		s.recordFailure(ctx, ip)
		return db.User{}, apperror.New("This account has been disabled", 403)
	}
	return user, nil
}

// Register creates a fresh account. The root username is reserved.
func (s *Service) Register(ctx context.Context, ip, username, password string) (db.User, error) {
	if !s.AccountsOpen {
		return db.User{}, apperror.New("Registration is currently disabled", 403)
	}
	if s.FailureLimiter != nil && !s.FailureLimiter.Allow(ctx, ip) {
		return db.User{}, apperror.ErrRateLimited
	}
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return db.User{}, apperror.New(err.Error(), 0)
	}
	if strings.EqualFold(username, "root") {
		return db.User{}, apperror.New("Username is reserved", 403)
	}
	if err := ValidatePassword(password); err != nil {
		return db.User{}, apperror.New(err.Error(), 0)
	}
	if _, err := s.Queries.GetUserByUsername(ctx, username); err == nil {
		return db.User{}, apperror.ErrUsernameTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return db.User{}, apperror.Wrap(err, apperror.ErrInternal)
	}
	token, err := GenerateToken()
	if err != nil {
		return db.User{}, apperror.Wrap(err, apperror.ErrInternal)
	}

	now := time.Now().Unix()
	user := db.User{
		Username:     username,
		Password:     hash,
		Token:        token,
		Enabled:      true,
		Permission:   RankUser,
		Timestamp:    now,
		Registration: now,
	}
	id, err := s.Queries.InsertUser(ctx, user)
	if err != nil {
		return db.User{}, apperror.Wrap(err, apperror.ErrInternal)
	}
	user.ID = id
	return user, nil
}

// ChangePassword rehashes and stores a new password.
func (s *Service) ChangePassword(ctx context.Context, userID int64, password string) error {
	if err := ValidatePassword(password); err != nil {
		return apperror.New(err.Error(), 0)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	if err := s.Queries.UpdateUserPassword(ctx, userID, hash); err != nil {
		return apperror.Wrap(err, apperror.ErrInternal)
	}
	return nil
}

// RotateToken issues a fresh token for the user.
func (s *Service) RotateToken(ctx context.Context, userID int64) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrInternal)
	}
	if err := s.Queries.UpdateUserToken(ctx, userID, token); err != nil {
		return "", apperror.Wrap(err, apperror.ErrInternal)
	}
	return token, nil
}

// VerifyToken counts failures like a login attempt so tokens cannot be
// brute-forced faster than passwords.
func (s *Service) VerifyToken(ctx context.Context, ip, token string) (db.User, error) {
	if s.FailureLimiter != nil && !s.FailureLimiter.Allow(ctx, ip) {
		return db.User{}, apperror.ErrRateLimited
	}
	user, err := s.ByToken(ctx, token)
	if err != nil {
		s.recordFailure(ctx, ip)
		return db.User{}, err
	}
	return user, nil
}

// EnsureRoot re-creates the root superadmin whenever the users table is
// empty. The generated password is logged once; operators should change it
// immediately.
func (s *Service) EnsureRoot(ctx context.Context) error {
	count, err := s.Queries.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	password, err := GenerateToken()
	if err != nil {
		return err
	}
	password = password[:16]
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	token, err := GenerateToken()
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	if _, err := s.Queries.InsertUser(ctx, db.User{
		Username:     "root",
		Password:     hash,
		Token:        token,
		Enabled:      true,
		Permission:   RankSuperadmin,
		Timestamp:    now,
		Registration: now,
	}); err != nil {
		return fmt.Errorf("failed to create root user: %w", err)
	}
	logger.Default().Warn("root account created", "username", "root", "password", password)
	return nil
}

// IsRoot guards the root account against rename, disable and delete.
func IsRoot(u db.User) bool {
	return u.Username == "root"
}

// NullableID adapts a user id for the files.userid column.
func NullableID(u db.User) sql.NullInt64 {
	if u.ID == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: u.ID, Valid: true}
}

func (s *Service) recordFailure(ctx context.Context, ip string) {
	metrics.AuthFailuresTotal.Inc()
	if s.FailureLimiter != nil {
		s.FailureLimiter.Record(ctx, ip)
	}
}
