package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

const tradesPageSize = 100

// ClobClient reads markets and books from the Polymarket CLOB API and trades
// from the data API. It implements venue.Fetcher. Market ids are condition
// ids; books are fetched for each market's YES token.
type ClobClient struct {
	venue      string
	baseURL    string
	dataURL    string
	httpClient *http.Client
	now        func() time.Time

	mu     sync.RWMutex
	tokens map[string]string // condition id -> YES token id
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// dataURL is the data API root, e.g. "https://data-api.polymarket.com".
func NewClobClient(venue, baseURL, dataURL string, timeout time.Duration) *ClobClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClobClient{
		venue:   venue,
		baseURL: baseURL,
		dataURL: dataURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now:    time.Now,
		tokens: make(map[string]string),
	}
}

// GetMarkets returns one page of markets and the next cursor ("" at the end).
func (c *ClobClient) GetMarkets(ctx context.Context, cursor string) (APIMarketsPage, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("next_cursor", cursor)
	}

	var page APIMarketsPage
	if err := c.get(ctx, c.baseURL, "/markets", params, &page); err != nil {
		return APIMarketsPage{}, fmt.Errorf("polymarket/clob: get markets: %w", err)
	}
	if page.NextCursor == endCursor {
		page.NextCursor = ""
	}
	return page, nil
}

// GetMarket returns a single market by condition id.
func (c *ClobClient) GetMarket(ctx context.Context, conditionID string) (APIMarket, error) {
	var m APIMarket
	if err := c.get(ctx, c.baseURL, "/markets/"+url.PathEscape(conditionID), nil, &m); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/clob: get market %s: %w", conditionID, err)
	}
	return m, nil
}

// GetBook returns the book for one outcome token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (APIBook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	var book APIBook
	if err := c.get(ctx, c.baseURL, "/book", params, &book); err != nil {
		return APIBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	return book, nil
}

// GetTrades returns recent trades for a condition id from the data API.
func (c *ClobClient) GetTrades(ctx context.Context, conditionID string) ([]APITrade, error) {
	params := url.Values{}
	params.Set("market", conditionID)
	params.Set("limit", fmt.Sprintf("%d", tradesPageSize))

	var trades []APITrade
	if err := c.get(ctx, c.dataURL, "/trades", params, &trades); err != nil {
		return nil, fmt.Errorf("polymarket/data: get trades %s: %w", conditionID, err)
	}
	return trades, nil
}

// YesToken resolves the YES token of a market, from the discovery cache or a
// market lookup.
func (c *ClobClient) YesToken(ctx context.Context, conditionID string) (string, error) {
	c.mu.RLock()
	tok, ok := c.tokens[conditionID]
	c.mu.RUnlock()
	if ok {
		return tok, nil
	}

	m, err := c.GetMarket(ctx, conditionID)
	if err != nil {
		return "", err
	}
	tok = m.YesToken()
	if tok == "" {
		return "", fmt.Errorf("polymarket/clob: market %s has no tokens: %w", conditionID, domain.ErrNotFound)
	}
	c.remember(conditionID, tok)
	return tok, nil
}

func (c *ClobClient) remember(conditionID, token string) {
	c.mu.Lock()
	c.tokens[conditionID] = token
	c.mu.Unlock()
}

// --------------------------------------------------------------------------
// venue.Fetcher
// --------------------------------------------------------------------------

func (c *ClobClient) FetchMarketPage(ctx context.Context, cursor string) ([]domain.MarketDescriptor, string, error) {
	page, err := c.GetMarkets(ctx, cursor)
	if err != nil {
		return nil, "", err
	}
	seenAt := c.now().UTC()
	out := make([]domain.MarketDescriptor, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ConditionID == "" || m.Closed || !bool(m.Active) {
			continue
		}
		if tok := m.YesToken(); tok != "" {
			c.remember(m.ConditionID, tok)
		}
		out = append(out, m.ToDomain(c.venue, seenAt))
	}
	return out, page.NextCursor, nil
}

func (c *ClobClient) FetchOrderBook(ctx context.Context, marketID string) (domain.OrderBook, error) {
	tok, err := c.YesToken(ctx, marketID)
	if err != nil {
		return domain.OrderBook{}, err
	}
	book, err := c.GetBook(ctx, tok)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return book.ToDomain(), nil
}

func (c *ClobClient) FetchTrades(ctx context.Context, marketID string) ([]domain.Trade, error) {
	if c.dataURL == "" {
		return nil, nil
	}
	raw, err := c.GetTrades(ctx, marketID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(raw))
	for _, t := range raw {
		if t.TransactionHash == "" {
			continue
		}
		out = append(out, t.ToDomain(c.venue))
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get sends a GET request and decodes the JSON response into out.
func (c *ClobClient) get(ctx context.Context, base, path string, params url.Values, out any) error {
	fullURL := base + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
