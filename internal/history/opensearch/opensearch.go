// Package opensearch indexes play events into an OpenSearch (or
// Elasticsearch) index over its REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/playwatch/internal/history"
)

type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	// Client defaults to one with a 5s timeout.
	Client *http.Client
}

// Sink writes one document per event. Events with a session id are PUT under
// "<session>-<type>" so a retried send overwrites instead of duplicating.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	user    string
	pass    string
}

func New(opts Options) *Sink {
	c := opts.Client
	if c == nil {
		c = &http.Client{Timeout: 5 * time.Second}
	}
	return &Sink{
		client:  c,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		index:   opts.Index,
		user:    opts.Username,
		pass:    opts.Password,
	}
}

func (s *Sink) docURL(e history.Event) (method, u string) {
	base := fmt.Sprintf("%s/%s/_doc", s.baseURL, url.PathEscape(s.index))
	if e.SessionID == "" {
		return http.MethodPost, base
	}
	return http.MethodPut, base + "/" + url.PathEscape(e.SessionID+"-"+string(e.Type))
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	method, u := s.docURL(e)
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.pass)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
