// Package meta owns every network call to the external catalog API.
// Retry, backoff and rate-limit state live on the Client instance; a
// process is expected to share a single Client so the hourly budget is
// accounted globally.
package meta

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
	"time"

	"metasync/internal/config"
	"metasync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

type Client struct {
	baseURL   string
	catalogID string
	http      *http.Client
	policy    RetryPolicy
	budget    *hourlyBudget
	logger    zerolog.Logger
}

func NewClient(cfg config.CatalogConfig, policy RetryPolicy, logger *zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.CatalogID == "" || cfg.AccessToken == "" {
		return nil, &Error{
			Kind: KindConfig,
			Op:   "init",
			Err:  errors.New("catalog base_url, catalog_id and access_token are all required"),
		}
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	httpClient := oauth2.NewClient(context.Background(), tokenSource)
	httpClient.Timeout = cfg.RequestTimeout

	budget := cfg.HourlyBudget
	if budget <= 0 {
		budget = 200
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		catalogID: cfg.CatalogID,
		http:      httpClient,
		policy:    policy,
		budget:    newHourlyBudget(budget),
		logger:    logger.With().Str("component", "meta-client").Logger(),
	}, nil
}

// Upsert creates or updates a catalog item keyed by retailer id. Calling
// it twice with the same item is safe: the upstream keys on retailer_id.
func (c *Client) Upsert(ctx context.Context, item *models.CatalogItem) (string, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return "", &Error{Kind: KindValidation, Op: "upsert", Err: err}
	}

	data, apiErr := c.do(ctx, "upsert", http.MethodPost, c.itemsURL(), body)
	if apiErr != nil {
		return "", apiErr
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &Error{Kind: KindUnknown, Op: "upsert", Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.ID == "" {
		resp.ID = item.RetailerID
	}
	return resp.ID, nil
}

// Delete removes an item by retailer id. Deleting an unknown or already
// deleted id is success at this layer.
func (c *Client) Delete(ctx context.Context, retailerID string) error {
	_, apiErr := c.do(ctx, "delete", http.MethodDelete, c.itemURL(retailerID), nil)
	if apiErr != nil {
		if apiErr.Kind == KindNotFound {
			return nil
		}
		return apiErr
	}
	return nil
}

// Get fetches one item by retailer id.
func (c *Client) Get(ctx context.Context, retailerID string) (*models.CatalogItem, error) {
	data, apiErr := c.do(ctx, "get", http.MethodGet, c.itemURL(retailerID), nil)
	if apiErr != nil {
		return nil, apiErr
	}

	var item models.CatalogItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "get", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &item, nil
}

type listResponse struct {
	Data   []*models.CatalogItem `json:"data"`
	Paging struct {
		NextCursor string `json:"next_cursor"`
	} `json:"paging"`
}

// ListAll pages through the remote catalog until the cursor is exhausted
// or the hard safety cap is reached, bounding worst-case reconciliation
// cost against a runaway upstream.
func (c *Client) ListAll(ctx context.Context, pageSize int) ([]*models.CatalogItem, error) {
	if pageSize <= 0 {
		pageSize = models.DefaultPageSize
	}

	var (
		items  []*models.CatalogItem
		cursor string
	)

	for {
		u := c.itemsURL() + "?limit=" + strconv.Itoa(pageSize)
		if cursor != "" {
			u += "&after=" + url.QueryEscape(cursor)
		}

		data, apiErr := c.do(ctx, "list", http.MethodGet, u, nil)
		if apiErr != nil {
			return nil, apiErr
		}

		var page listResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &Error{Kind: KindUnknown, Op: "list", Err: fmt.Errorf("decode response: %w", err)}
		}

		items = append(items, page.Data...)

		if len(items) >= models.ListHardCap {
			c.logger.Warn().Int("items", len(items)).Msg("list hit hard cap, truncating")
			return items[:models.ListHardCap], nil
		}
		if page.Paging.NextCursor == "" || len(page.Data) == 0 {
			return items, nil
		}
		cursor = page.Paging.NextCursor
	}
}

// VerifyAccess is a lightweight credentials and connectivity check.
func (c *Client) VerifyAccess(ctx context.Context) error {
	_, apiErr := c.do(ctx, "verify", http.MethodGet, c.catalogURL(), nil)
	if apiErr != nil {
		return apiErr
	}
	return nil
}

// BudgetSnapshot exposes the hourly budget state for status endpoints.
func (c *Client) BudgetSnapshot() (remaining int, resetAt time.Time) {
	return c.budget.Snapshot()
}

// do runs one logical call with budget accounting, retries and backoff.
// Terminal error kinds fail immediately; retryable kinds consume backoff
// up to the policy ceiling.
func (c *Client) do(ctx context.Context, op, method, rawURL string, body []byte) ([]byte, *Error) {
	for attempt := 0; ; attempt++ {
		if err := c.budget.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindNetwork, Op: op, Retries: attempt, Err: err}
		}

		data, apiErr := c.doOnce(ctx, method, rawURL, body)
		if apiErr == nil {
			return data, nil
		}
		apiErr.Op = op
		apiErr.Retries = attempt

		if !apiErr.Kind.Retryable() || attempt >= c.policy.MaxRetries {
			return nil, apiErr
		}

		delay := c.policy.Delay(attempt)
		c.logger.Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("kind", string(apiErr.Kind)).
			Msg("retrying catalog call")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &Error{Kind: KindNetwork, Op: op, Retries: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, body []byte) ([]byte, *Error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures and request timeouts are both retryable
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	c.refreshBudget(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	return nil, &Error{
		Kind:       kindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Err:        errors.New(upstreamMessage(data, resp.StatusCode)),
	}
}

// refreshBudget applies rate-limit accounting reported by the upstream.
func (c *Client) refreshBudget(resp *http.Response) {
	remaining := -1
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
		}
	}

	var resetAt time.Time
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil && unix > 0 {
			resetAt = time.Unix(unix, 0)
		}
	}

	if remaining >= 0 || !resetAt.IsZero() {
		c.budget.Refresh(remaining, resetAt)
	}
}

func upstreamMessage(data []byte, status int) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return fmt.Sprintf("upstream returned status %d", status)
}

func (c *Client) catalogURL() string {
	return fmt.Sprintf("%s/%s", c.baseURL, c.catalogID)
}

func (c *Client) itemsURL() string {
	return fmt.Sprintf("%s/%s/items", c.baseURL, c.catalogID)
}

func (c *Client) itemURL(retailerID string) string {
	return fmt.Sprintf("%s/%s/items/%s", c.baseURL, c.catalogID, url.PathEscape(retailerID))
}
