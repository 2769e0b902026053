package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/playwatch/internal/auth"
	"github.com/loykin/playwatch/pkg/client"
)

// HashPassword prints the bcrypt hash for server.auth.password_hash. The
// password is read from stdin when not given.
func (c *command) HashPassword(password string) error {
	if password == "" {
		var err error
		if password, err = readSecret(c.in); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, hash)
	return nil
}

// Token signs a bearer token with the configured secret, for scripts that
// cannot log in interactively.
func (c *command) Token(f TokenFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.Server.Auth.JWTSecret == "" {
		return errors.New("server.auth.jwt_secret is not set")
	}
	subject := f.Subject
	if subject == "" {
		subject = cfg.Server.Auth.Username
	}
	ttl := f.TTL
	if ttl <= 0 {
		ttl = cfg.Server.Auth.TokenTTL.Std()
	}
	tok, err := auth.IssueToken([]byte(cfg.Server.Auth.JWTSecret), subject, ttl)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, tok.Value)
	return nil
}

// Login exchanges credentials for a token and saves the session.
func (c *command) Login(ctx context.Context, f LoginFlags) error {
	if f.API.APIUrl == "" {
		return errors.New("--api-url is required")
	}
	if f.Username == "" {
		return errors.New("--username is required")
	}
	password := f.Password
	if password == "" {
		var err error
		if password, err = readSecret(c.in); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}
	cfg := client.DefaultConfig()
	cfg.BaseURL = f.API.APIUrl
	if f.API.APITimeout > 0 {
		cfg.Timeout = f.API.APITimeout
	}
	cl, err := client.New(cfg)
	if err != nil {
		return err
	}
	tok, err := cl.Login(ctx, f.Username, password)
	if err != nil {
		return err
	}
	if err := c.sessions.SaveSession(&Session{
		Token:     tok.Value,
		TokenType: tok.Type,
		ExpiresAt: tok.ExpiresAt,
		Username:  f.Username,
		ServerURL: f.API.APIUrl,
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "Logged in as %s (expires %s)\n", f.Username, tok.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (c *command) Logout() error {
	if err := c.sessions.ClearSession(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "Logged out")
	return nil
}
