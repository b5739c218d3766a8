// Package base44 talks to the Base44 entity backend that stores callers
// and tickets. Vendor replies are null-or-object shaped; everything is
// normalized into typed results at this boundary.
package base44

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"voice-agent/internal/domain"
)

const (
	entityUser   = "User"
	entityTicket = "Ticket"

	// Role assigned to callers created over the phone.
	defaultRoleLevel = "manager"
)

// userData is the payload of a User entity.
type userData struct {
	PhoneNumber string `json:"phone_number"`
	FullName    string `json:"full_name,omitempty"`
	RoleLevel   string `json:"roleLevel,omitempty"`
}

// userEnvelope is a User entity as returned by the API.
type userEnvelope struct {
	ID   string   `json:"id"`
	Data userData `json:"data"`
}

// userList is the response shape of a filtered entity query.
type userList struct {
	Items []userEnvelope `json:"items"`
}

// Ticket is an issue raised on behalf of a caller.
type Ticket struct {
	PhoneNumber string `json:"phone_number"`
	Summary     string `json:"summary"`
	Priority    string `json:"priority"`
	Source      string `json:"source"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("base44: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client wraps the Base44 entity API. It implements the caller directory
// consumed by the turn orchestrator.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the Base44 instance at baseURL. The API
// key is fetched from SSM on first use, mirroring the OpenAI client.
func NewClient(baseURL string, ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base44: base URL must not be empty")
	}
	if ps == nil {
		return nil, errors.New("base44: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("base44: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKey(ctx, c.getter, c.paramPrefix+"/base44-api-key")
	})
	return c.apiKey, c.keyErr
}

func (c *Client) entityURL(entity, id string) string {
	if id == "" {
		return c.baseURL + "/api/entities/" + entity
	}
	return c.baseURL + "/api/entities/" + entity + "/" + id
}

// LookupOrCreate finds the caller by phone number, creating the record on
// first contact. Uniqueness per phone number is the backend's guarantee;
// this client only ever creates after a miss.
func (c *Client) LookupOrCreate(ctx context.Context, phone string) (domain.CallerRecord, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.CallerRecord{}, errors.New("base44: phone must not be empty")
	}

	rec, found, err := c.findByPhone(ctx, phone)
	if err != nil {
		return domain.CallerRecord{}, err
	}
	if found {
		return rec, nil
	}
	return c.createCaller(ctx, phone)
}

// SetName records the caller's name once it has been learned.
func (c *Client) SetName(ctx context.Context, id, name string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("base44: caller id must not be empty")
	}
	body := map[string]userData{"data": {FullName: strings.TrimSpace(name)}}
	var env userEnvelope
	if err := c.do(ctx, http.MethodPut, c.entityURL(entityUser, id), body, &env); err != nil {
		return fmt.Errorf("base44: set caller name: %w", err)
	}
	return nil
}

// CreateTicket files a ticket entity. Used by the assistant when an
// urgent damage report is detected.
func (c *Client) CreateTicket(ctx context.Context, t Ticket) error {
	if strings.TrimSpace(t.Summary) == "" {
		return errors.New("base44: ticket summary must not be empty")
	}
	body := map[string]Ticket{"data": t}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, c.entityURL(entityTicket, ""), body, &out); err != nil {
		return fmt.Errorf("base44: create ticket: %w", err)
	}
	return nil
}

// FileTicket satisfies the ticket filer consumed by the assistant service.
func (c *Client) FileTicket(ctx context.Context, phone, summary, priority string) error {
	return c.CreateTicket(ctx, Ticket{
		PhoneNumber: phone,
		Summary:     summary,
		Priority:    priority,
		Source:      "voice",
	})
}

func (c *Client) findByPhone(ctx context.Context, phone string) (domain.CallerRecord, bool, error) {
	where, err := json.Marshal(map[string]string{"phone_number": phone})
	if err != nil {
		return domain.CallerRecord{}, false, fmt.Errorf("base44: marshal where clause: %w", err)
	}
	u := c.entityURL(entityUser, "") + "?where=" + url.QueryEscape(string(where))

	var list userList
	if err := c.do(ctx, http.MethodGet, u, nil, &list); err != nil {
		return domain.CallerRecord{}, false, fmt.Errorf("base44: find caller: %w", err)
	}
	if len(list.Items) == 0 {
		return domain.CallerRecord{}, false, nil
	}
	rec, err := toCallerRecord(list.Items[0])
	if err != nil {
		return domain.CallerRecord{}, false, err
	}
	return rec, true, nil
}

func (c *Client) createCaller(ctx context.Context, phone string) (domain.CallerRecord, error) {
	body := map[string]userData{"data": {PhoneNumber: phone, RoleLevel: defaultRoleLevel}}
	var env userEnvelope
	if err := c.do(ctx, http.MethodPost, c.entityURL(entityUser, ""), body, &env); err != nil {
		return domain.CallerRecord{}, fmt.Errorf("base44: create caller: %w", err)
	}
	rec, err := toCallerRecord(env)
	if err != nil {
		return domain.CallerRecord{}, err
	}
	if rec.PhoneNumber == "" {
		rec.PhoneNumber = phone
	}
	return rec, nil
}

// toCallerRecord normalizes a vendor envelope; a null or id-less reply is
// an error rather than a half-formed record.
func toCallerRecord(env userEnvelope) (domain.CallerRecord, error) {
	if env.ID == "" {
		return domain.CallerRecord{}, errors.New("base44: entity reply has no id")
	}
	return domain.CallerRecord{
		ID:          env.ID,
		PhoneNumber: env.Data.PhoneNumber,
		DisplayName: env.Data.FullName,
	}, nil
}

// do performs one JSON request and decodes the body into out when out is
// non-nil. A literal null body is rejected during decoding by leaving out
// zero-valued, which callers treat as missing data.
func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}

	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return errors.New("empty entity reply")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("base44: fetch key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("base44: unmarshal paramstore key value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("base44: API key is empty")
	}
	return tp.Token, nil
}
