package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbflow/internal/domain"
)

// HTTPClient talks JSON to the local signing sidecar that holds the platform
// sessions. It implements PayoutGateway, P2PGateway and Mailbox.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	Guard   *Guard

	mu    sync.RWMutex
	token string
}

func NewHTTPClient(baseURL, token string, limiter *Limiter, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		token:   token,
	}
	c.Guard = &Guard{Limiter: limiter, Reauth: c, MaxRetries: 3}
	return c
}

type payoutDTO struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Wallet   string          `json:"wallet"`
	Bank     string          `json:"bank"`
	Status   int             `json:"status"`
}

func (c *HTTPClient) FetchClaimablePayouts(ctx context.Context) ([]domain.Payout, error) {
	var dtos []payoutDTO
	if err := c.call(ctx, "fetch_payouts", http.MethodGet, "/payouts/claimable", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.Payout, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, domain.Payout{
			ID:       d.ID,
			Amount:   d.Amount,
			Currency: d.Currency,
			Wallet:   d.Wallet,
			BankHint: d.Bank,
			Status:   d.Status,
		})
	}
	return out, nil
}

func (c *HTTPClient) ClaimPayout(ctx context.Context, id string) error {
	return c.call(ctx, "claim_payout", http.MethodPost, "/payouts/"+url.PathEscape(id)+"/claim", nil, nil)
}

func (c *HTTPClient) ApprovePayout(ctx context.Context, id string, receipt []byte) error {
	return c.call(ctx, "approve_payout", http.MethodPost, "/payouts/"+url.PathEscape(id)+"/approve", receipt, nil)
}

type amountDTO struct {
	Amount decimal.Decimal `json:"amount"`
}

func (c *HTTPClient) ReadBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out amountDTO
	err := c.call(ctx, "read_balance", http.MethodGet, "/p2p/balance/"+url.PathEscape(asset), nil, &out)
	return out.Amount, err
}

func (c *HTTPClient) SetBalance(ctx context.Context, asset string, amount decimal.Decimal) error {
	return c.call(ctx, "set_balance", http.MethodPut, "/p2p/balance/"+url.PathEscape(asset), amountDTO{Amount: amount}, nil)
}

func (c *HTTPClient) CreateAdvertisement(ctx context.Context, spec domain.AdSpec) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "create_ad", http.MethodPost, "/p2p/ads", spec, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create_ad: %w: empty advertisement id", ErrRejected)
	}
	return out.ID, nil
}

func (c *HTTPClient) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	err := c.call(ctx, "list_orders", http.MethodGet, "/p2p/orders", nil, &out)
	return out, err
}

func (c *HTTPClient) ListInboundMessages(ctx context.Context, orderID string) ([]domain.Message, error) {
	var out []domain.Message
	err := c.call(ctx, "list_messages", http.MethodGet, "/p2p/orders/"+url.PathEscape(orderID)+"/messages", nil, &out)
	return out, err
}

func (c *HTTPClient) SendMessage(ctx context.Context, orderID, text string) error {
	body := map[string]string{"text": text}
	return c.call(ctx, "send_message", http.MethodPost, "/p2p/orders/"+url.PathEscape(orderID)+"/messages", body, nil)
}

func (c *HTTPClient) ReleaseEscrow(ctx context.Context, orderID string) error {
	return c.call(ctx, "release_escrow", http.MethodPost, "/p2p/orders/"+url.PathEscape(orderID)+"/release", nil, nil)
}

func (c *HTTPClient) ListDocuments(ctx context.Context, since time.Time) ([]domain.Document, error) {
	var out []domain.Document
	path := "/mail/documents?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	err := c.call(ctx, "list_documents", http.MethodGet, path, nil, &out)
	return out, err
}

// Reauthenticate asks the sidecar for a fresh session token. It bypasses the
// guard so it can be called from inside one.
func (c *HTTPClient) Reauthenticate(ctx context.Context) error {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/session/refresh", nil, &out); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) call(ctx context.Context, op, method, path string, in, out any) error {
	return c.Guard.Do(ctx, op, func(ctx context.Context) error {
		if err := c.do(ctx, method, path, in, out); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// do performs one request. A []byte body is sent raw; anything else is
// JSON-encoded.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	switch v := in.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
		contentType = "application/octet-stream"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrSessionExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyClaimed
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
