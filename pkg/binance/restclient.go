package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"klinewatch/internal/model"
)

type RESTClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	now        func() time.Time
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// WithCredentials sets the API key pair used for signed endpoints.
func (c *RESTClient) WithCredentials(apiKey, apiSecret string) *RESTClient {
	c.apiKey = apiKey
	c.apiSecret = apiSecret
	return c
}

// GetKlines fetches up to limit most recent klines for symbol on interval.
// The last row may still be open; callers filter on CloseTime.
func (c *RESTClient) GetKlines(ctx context.Context, symbol string, interval model.Interval, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval.StreamValue())
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/api/v3/klines?" + q.Encode()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var rows [][]json.RawMessage
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}

	return ParseKlineList(rows), nil
}

// PlaceMarketOrder sends a signed MARKET order.
func (c *RESTClient) PlaceMarketOrder(ctx context.Context, side model.Side, quantity float64, symbol string) (*OrderResponse, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("binance credentials not configured")
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("side", string(side))
	q.Set("type", "MARKET")
	q.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	payload := q.Encode()
	body := payload + "&signature=" + c.sign(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/order", strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	var out OrderResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// sign returns the hex HMAC-SHA256 of payload with the API secret.
func (c *RESTClient) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTClient) do(req *http.Request, out any) error {
	// Execute the HTTP request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return &apiErr
		}
		return fmt.Errorf("binance error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
