package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const userColumns = "id, username, email, password_hash, role, created_at, updated_at, last_login_at"

// Store is the SQLite-backed account store. Usernames are matched ignoring case.
type Store struct {
	db     *sql.DB
	hasher Hasher
	now    func() time.Time
}

// NewStore creates an account store over an already-migrated database.
func NewStore(db *sql.DB, hasher Hasher) *Store {
	return &Store{db: db, hasher: hasher, now: time.Now}
}

// Register validates and creates an account with RoleUser.
// Returns ErrUsernameExists if the username is taken in any letter case.
func (s *Store) Register(ctx context.Context, reg Registration) (*User, error) {
	reg = reg.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.PasswordHash, string(user.Role),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// Authenticate checks credentials and records the login time.
// Unknown users and wrong passwords both return ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ? WHERE id = ?", formatTime(now), user.ID,
	); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// GetByID returns the account with id.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByUsername returns the account whose username matches ignoring case.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ? COLLATE NOCASE", username)
}

// Count returns the number of accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (s *Store) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var (
		u                    User
		role                 string
		createdAt, updatedAt string
		lastLogin            sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &createdAt, &updatedAt, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	if lastLogin.Valid {
		t := parseTime(lastLogin.String)
		u.LastLoginAt = &t
	}
	return &u, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // format is controlled
	return t
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
