// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"errors"
	"slices"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 255
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUserIDInvalid   = errors.New("user id invalid")
)

type UserID string

const RoleAdmin = "admin"

// Identity is the snapshot of a user taken at authentication time.
// It is cached for the lifetime of the connection.
type Identity struct {
	ID           UserID   `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	Avatar       string   `json:"avatar,omitempty"`
	Roles        []string `json:"roles"`
	BlockedUsers []UserID `json:"blocked_users"`
}

func NewIdentity(id UserID, name string) (*Identity, error) {
	if err := ValidateUserID(id); err != nil {
		return nil, err
	}
	u := &Identity{ID: id, Roles: []string{}, BlockedUsers: []UserID{}}
	if err := u.SetName(name); err != nil {
		return nil, err
	}
	return u, nil
}

func ValidateUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	if strings.ContainsAny(string(id), "/+#") {
		return ErrUserIDInvalid
	}
	return nil
}

func (u *Identity) SetName(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Name = name
	return nil
}

func (u *Identity) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

func (u *Identity) Blocks(id UserID) bool {
	return slices.Contains(u.BlockedUsers, id)
}

// Block adds id to the block list. Reports whether the list changed.
func (u *Identity) Block(id UserID) bool {
	if id == u.ID || u.Blocks(id) {
		return false
	}
	u.BlockedUsers = append(u.BlockedUsers, id)
	return true
}

// Unblock removes id from the block list. Reports whether the list changed.
func (u *Identity) Unblock(id UserID) bool {
	i := slices.Index(u.BlockedUsers, id)
	if i < 0 {
		return false
	}
	u.BlockedUsers = slices.Delete(u.BlockedUsers, i, i+1)
	return true
}

// Clone returns a deep copy so callers can hand the snapshot to other goroutines.
func (u *Identity) Clone() *Identity {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	c.BlockedUsers = slices.Clone(u.BlockedUsers)
	return &c
}
