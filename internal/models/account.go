package models

import (
	"strings"
	"time"
)

// Account is a registered gateway user. Email is the primary key; APIKey is
// the only credential accepted on the inference endpoint and is replaced on
// every key reset.
type Account struct {
	Email      string    `json:"email"`
	Password   string    `json:"password"` // plaintext, compared verbatim
	APIKey     string    `json:"api_key"`
	DailyLimit int       `json:"daily_limit"`
	CreatedAt  time.Time `json:"created_at"`
}

// PublicAccount is the view of an account returned by /login.
type PublicAccount struct {
	Email      string    `json:"email"`
	APIKey     string    `json:"api_key"`
	DailyLimit int       `json:"daily_limit"`
	CreatedAt  time.Time `json:"created_at"`
}

// Public strips the password.
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		Email:      a.Email,
		APIKey:     a.APIKey,
		DailyLimit: a.DailyLimit,
		CreatedAt:  a.CreatedAt,
	}
}

// NormalizeEmail trims and lowercases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail is a deliberately loose check: one "@" with something on both sides.
func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") {
		return false
	}
	return at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
