package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials covers a wrong username/password and any invalid token.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDisabled is returned by Login when authentication is switched off.
	ErrDisabled = errors.New("authentication disabled")
)

// Token is an issued bearer token.
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config enables single-user authentication for the HTTP API.
type Config struct {
	Enabled      bool
	Username     string
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}
