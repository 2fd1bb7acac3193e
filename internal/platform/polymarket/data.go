package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// DataClient reads wallet positions and activity from the public data API.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a data API client, e.g. for
// "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Positions returns the open positions of wallet. conditionID may be empty
// to list every market.
func (c *DataClient) Positions(ctx context.Context, wallet, conditionID string) ([]domain.Position, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("sizeThreshold", "0")
	if conditionID != "" {
		q.Set("market", conditionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/positions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: positions: %w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("polymarket/data: positions: %w", checkHTTPStatus(resp.StatusCode, body))
	}

	var raw []APIPosition
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}
	out := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		pos := p.ToDomain()
		if pos.Wallet == "" {
			pos.Wallet = wallet
		}
		out = append(out, pos)
	}
	return out, nil
}

// Activity returns trade and merge activity of wallet at or after since,
// oldest first. Other activity kinds (splits, redeems, rewards) are dropped.
func (c *DataClient) Activity(ctx context.Context, wallet string, since time.Time, limit, offset int) ([]domain.TradeEvent, int, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "ASC")
	if !since.IsZero() {
		q.Set("start", strconv.FormatInt(since.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/activity?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("polymarket/data: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("polymarket/data: activity: %w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, fmt.Errorf("polymarket/data: activity: %w", checkHTTPStatus(resp.StatusCode, body))
	}

	var raw []APIActivity
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("polymarket/data: decode activity: %w", err)
	}
	out := make([]domain.TradeEvent, 0, len(raw))
	for _, a := range raw {
		ev, ok := a.ToDomain()
		if !ok {
			continue
		}
		// Rows are keyed by the followed address as configured.
		ev.TraderAddress = wallet
		out = append(out, ev)
	}
	// The raw page size drives pagination, not the filtered count.
	return out, len(raw), nil
}
