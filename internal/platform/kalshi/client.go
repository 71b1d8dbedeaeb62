package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

const marketsPageSize = 200

// Client is the REST client for the Kalshi exchange API. It implements
// venue.Fetcher.
type Client struct {
	venue      string
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier; requests are only signed once a
// private key is set as well.
func NewClient(venue, baseURL, apiKeyID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		venue:    venue,
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// GetMarkets returns one page of open Kalshi markets and the next cursor.
func (c *Client) GetMarkets(ctx context.Context, cursor string) (KalshiMarketsPage, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", strconv.Itoa(marketsPageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var page KalshiMarketsPage
	if err := c.get(ctx, "/markets", params, &page); err != nil {
		return KalshiMarketsPage{}, fmt.Errorf("kalshi: get markets: %w", err)
	}
	return page, nil
}

// GetOrderbook returns the current orderbook for the given market ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (KalshiOrderbook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(ticker))

	var resp struct {
		Orderbook KalshiOrderbook `json:"orderbook"`
	}
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return KalshiOrderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}
	resp.Orderbook.Ticker = ticker
	return resp.Orderbook, nil
}

// GetTrades returns the most recent public trades for a ticker.
func (c *Client) GetTrades(ctx context.Context, ticker string, limit int) ([]KalshiTrade, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Trades []KalshiTrade `json:"trades"`
	}
	if err := c.get(ctx, "/markets/trades", params, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: get trades %s: %w", ticker, err)
	}
	return resp.Trades, nil
}

// --------------------------------------------------------------------------
// venue.Fetcher
// --------------------------------------------------------------------------

func (c *Client) FetchMarketPage(ctx context.Context, cursor string) ([]domain.MarketDescriptor, string, error) {
	page, err := c.GetMarkets(ctx, cursor)
	if err != nil {
		return nil, "", err
	}
	seenAt := c.now().UTC()
	out := make([]domain.MarketDescriptor, 0, len(page.Markets))
	for _, m := range page.Markets {
		if m.Ticker == "" {
			continue
		}
		out = append(out, m.ToDomain(c.venue, seenAt))
	}
	return out, page.Cursor, nil
}

func (c *Client) FetchOrderBook(ctx context.Context, marketID string) (domain.OrderBook, error) {
	ob, err := c.GetOrderbook(ctx, marketID)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return ob.ToDomain(), nil
}

func (c *Client) FetchTrades(ctx context.Context, marketID string) ([]domain.Trade, error) {
	raw, err := c.GetTrades(ctx, marketID, 100)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(raw))
	for _, t := range raw {
		if t.TradeID == "" {
			continue
		}
		out = append(out, t.ToDomain(c.venue))
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get builds, signs, sends and decodes a GET request against the Kalshi API.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// signRequest adds RSA authentication headers to the HTTP request. Kalshi
// uses RSA-PSS-SHA256 signatures over timestamp + method + path, where path
// excludes the query string. Public market data needs no signature, so an
// unconfigured key leaves the request unsigned.
func (c *Client) signRequest(req *http.Request) error {
	if c.privateKey == nil || c.apiKeyID == "" {
		return nil
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	message := ts + req.Method + req.URL.Path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr KalshiErrorResponse
	_ = json.Unmarshal(body, &apiErr)
	detail := fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Code)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, detail)
	}
}
