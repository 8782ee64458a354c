// Package store is a minimal sqlite user directory backing core.UserStore.
package store

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrUserExists = errors.New("user already exists")

const loginTokenBytes = 64

// Users persists identities and their login tokens in SQLite.
type Users struct {
	db *sql.DB
}

var _ core.UserStore = (*Users)(nil)

// Open opens (or creates) the database at path.
func Open(path string) (*Users, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Users{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			token         TEXT NOT NULL DEFAULT '',
			avatar        TEXT NOT NULL DEFAULT '',
			roles         TEXT NOT NULL DEFAULT '[]',
			blocked_users TEXT NOT NULL DEFAULT '[]',
			created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
		);
	`)
	return err
}

func (u *Users) Close() error {
	return u.db.Close()
}

// CreateUser adds a user with a fresh id. The email is matched case-insensitively.
func (u *Users) CreateUser(ctx context.Context, email, name string, roles []string) (*domain.Identity, error) {
	ident, err := domain.NewIdentity(domain.UserID(uuid.NewString()), name)
	if err != nil {
		return nil, err
	}
	ident.Email = normalizeEmail(email)
	if ident.Email == "" {
		return nil, fmt.Errorf("email required")
	}
	if roles != nil {
		ident.Roles = roles
	}
	rolesJSON, err := json.Marshal(ident.Roles)
	if err != nil {
		return nil, err
	}

	_, err = u.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, roles) VALUES (?, ?, ?, ?)`,
		string(ident.ID), ident.Email, ident.Name, string(rolesJSON))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, ident.Email)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return ident, nil
}

// IssueToken replaces the login token of the user and returns it.
func (u *Users) IssueToken(ctx context.Context, email string) (string, error) {
	buf := make([]byte, loginTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	token := hex.EncodeToString(buf)

	res, err := u.db.ExecContext(ctx, `UPDATE users SET token = ? WHERE email = ?`, token, normalizeEmail(email))
	if err != nil {
		return "", fmt.Errorf("updating token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", core.ErrUserNotFound
	}
	return token, nil
}

func (u *Users) Authenticate(ctx context.Context, email, token string) (*domain.Identity, error) {
	ident, stored, err := u.byEmail(ctx, normalizeEmail(email))
	if errors.Is(err, core.ErrUserNotFound) {
		return nil, core.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return nil, core.ErrInvalidCredentials
	}
	return ident, nil
}

func (u *Users) Get(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, string(id))
	ident, _, err := scanUser(row)
	return ident, err
}

func (u *Users) BlockUser(ctx context.Context, userID, blockedID domain.UserID) error {
	return u.updateBlocked(ctx, userID, func(i *domain.Identity) bool { return i.Block(blockedID) })
}

func (u *Users) UnblockUser(ctx context.Context, userID, blockedID domain.UserID) error {
	return u.updateBlocked(ctx, userID, func(i *domain.Identity) bool { return i.Unblock(blockedID) })
}

func (u *Users) updateBlocked(ctx context.Context, userID domain.UserID, change func(*domain.Identity) bool) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, string(userID))
	ident, _, err := scanUser(row)
	if err != nil {
		return err
	}
	if !change(ident) {
		return nil
	}
	blocked, err := json.Marshal(ident.BlockedUsers)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET blocked_users = ? WHERE id = ?`, string(blocked), string(userID)); err != nil {
		return fmt.Errorf("updating blocked users: %w", err)
	}
	return tx.Commit()
}

const userColumns = `id, email, name, token, avatar, roles, blocked_users`

func (u *Users) byEmail(ctx context.Context, email string) (*domain.Identity, string, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*domain.Identity, string, error) {
	var (
		ident          domain.Identity
		id, token      string
		roles, blocked string
	)
	if err := row.Scan(&id, &ident.Email, &ident.Name, &token, &ident.Avatar, &roles, &blocked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", core.ErrUserNotFound
		}
		return nil, "", fmt.Errorf("scanning user: %w", err)
	}
	ident.ID = domain.UserID(id)
	if err := json.Unmarshal([]byte(roles), &ident.Roles); err != nil {
		return nil, "", fmt.Errorf("decoding roles: %w", err)
	}
	if err := json.Unmarshal([]byte(blocked), &ident.BlockedUsers); err != nil {
		return nil, "", fmt.Errorf("decoding blocked users: %w", err)
	}
	return &ident, token, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
