package main

import (
	"github.com/loykin/playwatch/pkg/client"
)

// apiClient builds a daemon client. The saved session fills in the URL and
// token when the flags leave them empty.
func (c *command) apiClient(f APIFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.BaseURL = f.APIUrl
	cfg.Token = f.Token

	if c.sessions != nil && (cfg.BaseURL == "" || cfg.Token == "") {
		s, err := c.sessions.LoadSession()
		if err != nil {
			return nil, err
		}
		if s != nil {
			if cfg.BaseURL == "" {
				cfg.BaseURL = s.ServerURL
			}
			if cfg.Token == "" && (f.APIUrl == "" || f.APIUrl == s.ServerURL) {
				cfg.Token = s.Token
			}
		}
	}
	return client.New(cfg)
}

func (c *command) hasSession() bool {
	if c.sessions == nil {
		return false
	}
	s, err := c.sessions.LoadSession()
	return err == nil && s != nil
}
