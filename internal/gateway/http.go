package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thrillee/aegisbulk/internal/compose"
	"github.com/thrillee/aegisbulk/internal/contact"
	"github.com/thrillee/aegisbulk/internal/wallet"
)

const (
	pathSend          = "/sms/send"
	pathWalletStats   = "/wallet/stats"
	pathContactGroups = "/contact-groups"
	pathTemplates     = "/templates"

	maxErrorBody = 512
)

// HTTPConfig holds configuration for the platform HTTP API.
type HTTPConfig struct {
	BaseURL string // e.g. "https://api.example.com/v1"
	APIKey  string // X-API-KEY header value
	Timeout time.Duration
}

// Client talks JSON to the platform API.
type Client struct {
	config     HTTPConfig
	httpClient *http.Client
}

var (
	_ Sender              = (*Client)(nil)
	_ wallet.StatsSource  = (*Client)(nil)
	_ contact.GroupSource = (*Client)(nil)
)

// NewClient creates a client for the platform API.
func NewClient(config HTTPConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type groupContact struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email"`
}

// SendMessage enqueues one message for a recipient list.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendAck, error) {
	if len(req.Recipients) == 0 {
		return SendAck{}, ErrNoRecipients
	}
	slog.DebugContext(ctx, "Sending SMS via API", slog.Int("recipients", len(req.Recipients)), slog.String("sender_id", req.SenderID))

	var ack SendAck
	if err := c.do(ctx, http.MethodPost, pathSend, nil, req, &ack); err != nil {
		return SendAck{}, err
	}
	if ack.Accepted == 0 {
		ack.Accepted = len(req.Recipients)
	}
	return ack, nil
}

// GetWalletStats returns the account balance and per-SMS unit cost.
func (c *Client) GetWalletStats(ctx context.Context) (wallet.Stats, error) {
	var stats wallet.Stats
	err := c.do(ctx, http.MethodGet, pathWalletStats, nil, nil, &stats)
	return stats, err
}

// ListContactGroups returns the saved groups on the platform.
func (c *Client) ListContactGroups(ctx context.Context) ([]contact.Group, error) {
	var groups []contact.Group
	err := c.do(ctx, http.MethodGet, pathContactGroups, nil, nil, &groups)
	return groups, err
}

// GetGroupContacts fetches one page of a group's members.
func (c *Client) GetGroupContacts(ctx context.Context, groupID string, page contact.Page) ([]contact.Contact, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(page.Limit))
	q.Set("offset", strconv.Itoa(page.Offset))

	var rows []groupContact
	path := pathContactGroups + "/" + url.PathEscape(groupID) + "/contacts"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &rows); err != nil {
		return nil, err
	}

	out := make([]contact.Contact, 0, len(rows))
	for _, r := range rows {
		email := ""
		if r.Email != nil {
			email = *r.Email
		}
		ct := contact.New(r.Name, r.Phone, email)
		if r.ID != "" {
			ct.ID = r.ID
		}
		out = append(out, ct)
	}
	return out, nil
}

// ListTemplates returns the stored message templates.
func (c *Client) ListTemplates(ctx context.Context) ([]compose.Template, error) {
	var templates []compose.Template
	err := c.do(ctx, http.MethodGet, pathTemplates, nil, nil, &templates)
	return templates, err
}

// HealthCheck performs a basic reachability check of the API.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(raw))}
		slog.WarnContext(ctx, "Gateway API call rejected", slog.String("path", path), slog.Int("status", resp.StatusCode))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
