// Package client talks to the payment backend over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"portcaisse/internal/domain"
	"portcaisse/internal/invoice"
)

var (
	ErrUnauthorized = errors.New("not authenticated")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// csrfTTL stays below the backend's two-hour token window.
const csrfTTL = 30 * time.Minute

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("backend: http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	token  string
	csrf   string
	csrfAt time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken installs a bearer token obtained elsewhere.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: missing base url")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.New("client: invalid base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("client: invalid base url scheme")
	}
	if u.Host == "" {
		return nil, errors.New("client: invalid base url host")
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login exchanges credentials for a bearer token kept by the client.
func (c *Client) Login(ctx context.Context, username string, password string) (domain.LoginResponse, error) {
	var out domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Username: username,
		Password: password,
	}, &out)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if out.AccessToken == "" {
		return domain.LoginResponse{}, errors.New("client: missing access token")
	}

	c.mu.Lock()
	c.token = out.AccessToken
	c.csrf = ""
	c.mu.Unlock()
	return out, nil
}

// CurrentActor asks the backend who the token belongs to.
func (c *Client) CurrentActor(ctx context.Context) (domain.Actor, error) {
	var out struct {
		Actor domain.Actor `json:"actor"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &out); err != nil {
		return domain.Actor{}, err
	}
	return out.Actor, nil
}

func (c *Client) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var out domain.ReferenceExistsResponse
	path := "/api/v1/paiements/exists?reference=" + url.QueryEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, fmt.Errorf("reference exists: %w", err)
	}
	return out.Exists, nil
}

func (c *Client) ListPayments(ctx context.Context) ([]domain.PaymentEntry, error) {
	var out domain.PaymentListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/paiements", nil, &out); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out.Paiements, nil
}

func (c *Client) SearchPayments(ctx context.Context, query domain.PaymentQuery) (domain.PaymentPage, error) {
	values := url.Values{}
	values.Set("page", strconv.Itoa(max(query.Page, 1)))
	if query.Size > 0 {
		values.Set("size", strconv.Itoa(query.Size))
	}
	if term := strings.TrimSpace(query.Search); term != "" {
		values.Set("search", term)
	}

	var out domain.PaymentPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/paiements?"+values.Encode(), nil, &out); err != nil {
		return domain.PaymentPage{}, fmt.Errorf("search payments: %w", err)
	}
	return out, nil
}

func (c *Client) GetPayment(ctx context.Context, id int64) (domain.PaymentEntry, error) {
	var out domain.PaymentResponse
	if err := c.do(ctx, http.MethodGet, paymentPath(id), nil, &out); err != nil {
		return domain.PaymentEntry{}, fmt.Errorf("get payment %d: %w", id, err)
	}
	return out.Paiement, nil
}

func (c *Client) CreatePayment(ctx context.Context, req domain.PaymentWriteRequest) (domain.PaymentEntry, error) {
	var out domain.PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/paiements", req, &out); err != nil {
		return domain.PaymentEntry{}, fmt.Errorf("create payment: %w", err)
	}
	return out.Paiement, nil
}

func (c *Client) UpdatePayment(ctx context.Context, id int64, req domain.PaymentWriteRequest) (domain.PaymentEntry, error) {
	var out domain.PaymentResponse
	if err := c.do(ctx, http.MethodPut, paymentPath(id), req, &out); err != nil {
		return domain.PaymentEntry{}, fmt.Errorf("update payment %d: %w", id, err)
	}
	return out.Paiement, nil
}

func (c *Client) Receipt(ctx context.Context, id int64) (domain.ReceiptResponse, error) {
	var out domain.ReceiptResponse
	if err := c.do(ctx, http.MethodGet, paymentPath(id)+"/recu", nil, &out); err != nil {
		return domain.ReceiptResponse{}, fmt.Errorf("receipt %d: %w", id, err)
	}
	return out, nil
}

// Lookup implements invoice.Source against the backend.
func (c *Client) Lookup(ctx context.Context, invoiceType domain.InvoiceType, key string) (domain.InvoiceRecord, error) {
	path, err := invoice.LookupPath(invoiceType, key)
	if err != nil {
		return domain.InvoiceRecord{}, err
	}
	var out domain.InvoiceRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.InvoiceRecord{}, fmt.Errorf("%w: %s %s", invoice.ErrNotFound, invoiceType, key)
		}
		return domain.InvoiceRecord{}, fmt.Errorf("invoice lookup: %w", err)
	}
	return out, nil
}

func (c *Client) Banks(ctx context.Context) ([]domain.Bank, error) {
	var out struct {
		Banques []domain.Bank `json:"banques"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/banques", nil, &out); err != nil {
		return nil, fmt.Errorf("banks: %w", err)
	}
	return out.Banques, nil
}

func (c *Client) Accounts(ctx context.Context, banqueID int64) ([]domain.BankAccount, error) {
	path := "/api/v1/comptes"
	if banqueID > 0 {
		path += "?banqueId=" + strconv.FormatInt(banqueID, 10)
	}
	var out struct {
		Comptes []domain.BankAccount `json:"comptes"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("accounts: %w", err)
	}
	return out.Comptes, nil
}

func paymentPath(id int64) string {
	return "/api/v1/paiements/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet && path != "/api/v1/auth/login" {
		csrf, err := c.csrfToken(ctx)
		if err != nil {
			return fmt.Errorf("csrf token: %w", err)
		}
		req.Header.Set("X-CSRF-Token", csrf)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		if resp.StatusCode == http.StatusForbidden {
			c.mu.Lock()
			c.csrf = ""
			c.mu.Unlock()
		}
		return readHTTPError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.csrf != "" && time.Since(c.csrfAt) < csrfTTL {
		token := c.csrf
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	var out struct {
		Token string `json:"csrf_token"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/csrf-token", nil, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("client: empty csrf token")
	}

	c.mu.Lock()
	c.csrf = out.Token
	c.csrfAt = time.Now()
	c.mu.Unlock()
	return out.Token, nil
}

func readHTTPError(resp *http.Response) error {
	const maxBody = 4096
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	var payload struct {
		Error string `json:"error"`
	}
	msg := string(raw)
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}
