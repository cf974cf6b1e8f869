package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Account field limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
	MinPasswordLength = 6
	MaxPasswordLength = 200
	maxEmailLength    = 254
)

// Role is an account's authorisation tier.
type Role string

const (
	// RoleUser is a regular account; every registration gets it.
	RoleUser Role = "user"

	// RoleAdmin is reserved for operator accounts created out of band.
	RoleAdmin Role = "admin"
)

// User is a stored account.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Identity is the authenticated caller carried by a session.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Email    string `json:"email,omitempty"`
}

// Identity returns the session identity for u.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Role: u.Role, Email: u.Email}
}

// Registration is the input to Store.Register.
type Registration struct {
	Username string
	Email    string
	Password string
}

// Normalize trims the username and email.
func (r Registration) Normalize() Registration {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	return r
}

// Validate checks field formats. Call on a normalized registration.
func (r Registration) Validate() error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(r.Password); n < MinPasswordLength || n > MaxPasswordLength {
		return fmt.Errorf("%w: must be %d-%d characters", ErrInvalidPassword, MinPasswordLength, MaxPasswordLength)
	}
	if r.Email != "" {
		if len(r.Email) > maxEmailLength {
			return fmt.Errorf("%w: too long", ErrInvalidEmail)
		}
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidEmail, r.Email)
		}
	}
	return nil
}

// ValidateUsername checks length and rejects whitespace and control characters.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return fmt.Errorf("%w: must be %d-%d characters", ErrInvalidUsername, MinUsernameLength, MaxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: must not contain spaces or control characters", ErrInvalidUsername)
		}
	}
	return nil
}
