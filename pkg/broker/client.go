package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Client implements Gateway against the MT5 bridge REST API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

// NewClient builds a REST client. The limiter paces outgoing requests so a
// burst of concurrent control-plane operations cannot trip the bridge's
// request quota.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("auth-token", c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("bridge %s %s: status %d: %s", method, path, res.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListAccounts returns all accounts visible to the service credential.
func (c *Client) ListAccounts(ctx context.Context) ([]RemoteAccount, error) {
	var accounts []RemoteAccount
	if err := c.do(ctx, http.MethodGet, "/users/current/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Deploy requests deployment; the bridge acks immediately and provisions in
// the background.
func (c *Client) Deploy(ctx context.Context, accountID string) error {
	path := fmt.Sprintf("/users/current/accounts/%s/deploy", url.PathEscape(accountID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// GetAccountInfo fetches balance/equity for a deployed account.
func (c *Client) GetAccountInfo(ctx context.Context, accountID string) (AccountInfo, error) {
	var info AccountInfo
	path := fmt.Sprintf("/users/current/accounts/%s/account-information", url.PathEscape(accountID))
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return AccountInfo{}, err
	}
	return info, nil
}

// GetOpenPositions lists live open positions.
func (c *Client) GetOpenPositions(ctx context.Context, accountID string) ([]Position, error) {
	var positions []Position
	path := fmt.Sprintf("/users/current/accounts/%s/positions", url.PathEscape(accountID))
	if err := c.do(ctx, http.MethodGet, path, nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetDealHistory returns deals since the given time in feed order.
func (c *Client) GetDealHistory(ctx context.Context, accountID string, since time.Time) ([]Deal, error) {
	var deals []Deal
	path := fmt.Sprintf("/users/current/accounts/%s/history-deals?startTime=%s",
		url.PathEscape(accountID), url.QueryEscape(since.UTC().Format(time.RFC3339)))
	if err := c.do(ctx, http.MethodGet, path, nil, &deals); err != nil {
		return nil, err
	}
	return deals, nil
}

// PlaceOrder submits a market order.
func (c *Client) PlaceOrder(ctx context.Context, accountID string, req OrderRequest) (OrderResult, error) {
	var result OrderResult
	path := fmt.Sprintf("/users/current/accounts/%s/trade", url.PathEscape(accountID))
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return OrderResult{}, err
	}
	return result, nil
}

// ClosePosition closes one position. The bridge treats a close of an
// already-closed position as a no-op and returns 2xx.
func (c *Client) ClosePosition(ctx context.Context, accountID, positionID string) error {
	path := fmt.Sprintf("/users/current/accounts/%s/positions/%s/close",
		url.PathEscape(accountID), url.PathEscape(positionID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// CloseAllPositions issues one bulk close for every position matching filter.
func (c *Client) CloseAllPositions(ctx context.Context, accountID string, filter CloseFilter) (CloseResult, error) {
	var result CloseResult
	path := fmt.Sprintf("/users/current/accounts/%s/positions/close-all", url.PathEscape(accountID))
	if err := c.do(ctx, http.MethodPost, path, filter, &result); err != nil {
		return CloseResult{}, err
	}
	return result, nil
}
