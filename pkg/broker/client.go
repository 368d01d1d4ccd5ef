// Package broker talks to the integration broker (ESB) that fronts the
// central patient registry. Every call returns a tagged result instead of an
// error so callers can branch on the outcome without inspecting transport
// failures.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/novacare/clinic-intake/pkg/common/config"
	"github.com/novacare/clinic-intake/pkg/common/httpclient"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/middleware"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	searchPath = "/api/patient/search"
	syncPath   = "/api/patient/sync-to-central"

	// Response bodies beyond this are not worth reading for diagnostics.
	maxDiagnosticBody = 512
)

type SearchStatus int

const (
	NotFound SearchStatus = iota
	Found
	Unreachable
	Unexpected
)

func (s SearchStatus) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Unreachable:
		return "unreachable"
	default:
		return "unexpected"
	}
}

type SearchResult struct {
	Status SearchStatus
	// Record is the broker's patient in the exchange scheme, set when Found.
	Record     map[string]interface{}
	StatusCode int
	Err        error
}

type SyncResult struct {
	Synced bool
	// CentralID is empty when the broker confirmed without returning one.
	CentralID  string
	Reason     string
	StatusCode int
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    httpclient.New(timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client for cfg, authenticating with OAuth2 client
// credentials when a token URL is configured.
func NewFromConfig(cfg *config.Config) *Client {
	if cfg.BrokerTokenURL == "" {
		return New(cfg.BrokerURL, cfg.BrokerTimeout)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.BrokerClientID,
		ClientSecret: cfg.BrokerClientSecret,
		TokenURL:     cfg.BrokerTokenURL,
		Scopes:       cfg.BrokerScopes,
	}
	base := context.WithValue(context.Background(), oauth2.HTTPClient, httpclient.New(cfg.BrokerTimeout))
	authed := cc.Client(base)
	authed.Timeout = cfg.BrokerTimeout

	logger.Log.WithField("token_url", cfg.BrokerTokenURL).Info("Broker client using OAuth2 client credentials")
	return New(cfg.BrokerURL, cfg.BrokerTimeout, WithHTTPClient(authed))
}

// Search asks the broker whether a patient with cin exists anywhere in the
// enterprise.
func (c *Client) Search(ctx context.Context, cin string) SearchResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + searchPath + "?cin=" + url.QueryEscape(cin)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SearchResult{Status: Unexpected, Err: fmt.Errorf("build search request: %w", err)}
	}
	c.decorate(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return SearchResult{Status: Unreachable, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		record, err := decodeObject(resp.Body)
		if err != nil {
			return SearchResult{Status: Unexpected, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode search response: %w", err)}
		}
		return SearchResult{Status: Found, Record: record, StatusCode: resp.StatusCode}
	case http.StatusNotFound:
		drain(resp.Body)
		return SearchResult{Status: NotFound, StatusCode: resp.StatusCode}
	default:
		return SearchResult{
			Status:     Unexpected,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("broker search returned %d: %s", resp.StatusCode, snippet(resp.Body)),
		}
	}
}

// SyncToCentral submits record (exchange scheme) for propagation to the
// central registry.
func (c *Client) SyncToCentral(ctx context.Context, record map[string]interface{}) SyncResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(record)
	if err != nil {
		return SyncResult{Reason: fmt.Sprintf("encode record: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+syncPath, bytes.NewReader(body))
	if err != nil {
		return SyncResult{Reason: fmt.Sprintf("build sync request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return SyncResult{Reason: fmt.Sprintf("broker unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return SyncResult{
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("broker sync returned %d: %s", resp.StatusCode, snippet(resp.Body)),
		}
	}

	result := SyncResult{Synced: true, StatusCode: resp.StatusCode}
	payload, err := decodeObject(resp.Body)
	if err != nil {
		// Confirmed, but without a usable body.
		result.Reason = "sync response carried no readable body"
		return result
	}
	result.CentralID = centralID(payload["centralId"])
	return result
}

func (c *Client) decorate(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if id := middleware.RequestID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}
}

func decodeObject(r io.Reader) (map[string]interface{}, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return out, nil
}

func centralID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxDiagnosticBody))
	return strings.TrimSpace(string(b))
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxDiagnosticBody))
}
