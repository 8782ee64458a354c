package core

import (
	"context"
	"errors"

	"github.com/dkeye/commonroom/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// UserStore is the external user directory. The core only reads identity
// snapshots and records block-list changes through it.
type UserStore interface {
	Authenticate(ctx context.Context, email, token string) (*domain.Identity, error)
	BlockUser(ctx context.Context, userID, blockedID domain.UserID) error
	UnblockUser(ctx context.Context, userID, blockedID domain.UserID) error
}
