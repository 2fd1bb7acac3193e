package polymarket

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
	"time"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ClobClient is the REST client for the CLOB API.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a CLOB client. hmac may be nil until DeriveAPIKey
// has run.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		signer:     signer,
		hmacAuth:   hmac,
	}
}

// Credentials returns the L2 credentials in use.
func (c *ClobClient) Credentials() *crypto.HMACAuth {
	return c.hmacAuth
}

// GetOrderBook fetches the current book of a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	path := "/book?token_id=" + url.QueryEscape(tokenID)
	respBody, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return book.ToDomain(), nil
}

// PostOrder submits a signed order. An order the exchange rejects is
// returned as a result with Success=false and a nil error; the error is
// reserved for transport and server failures.
func (c *ClobClient) PostOrder(ctx context.Context, req PostOrderRequest) (APIOrderResult, error) {
	respBody, err := c.do(ctx, http.MethodPost, "/order", req, true)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest {
			var rejected APIOrderResult
			if json.Unmarshal(httpErr.Body, &rejected) == nil && rejected.Message() != "" {
				rejected.Success = false
				return rejected, nil
			}
		}
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return result, nil
}

// GetCollateralBalance returns the USDC balance of the account.
func (c *ClobClient) GetCollateralBalance(ctx context.Context, signatureType int) (float64, error) {
	path := "/balance-allowance?asset_type=COLLATERAL&signature_type=" + strconv.Itoa(signatureType)
	respBody, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get balance: %w", err)
	}

	var ba APIBalanceAllowance
	if err := json.Unmarshal(respBody, &ba); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	micro, err := strconv.ParseFloat(ba.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse balance %q: %w", ba.Balance, err)
	}
	return micro / 1e6, nil
}

// DeriveAPIKey obtains L2 credentials with an L1 (EIP-712) signature and
// installs them on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (*crypto.HMACAuth, error) {
	timestamp := time.Now().Unix()
	var nonce int64

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	respBody, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return c.hmacAuth, nil
}

// do marshals body, optionally applies L2 headers, sends the request and
// returns the response body.
func (c *ClobClient) do(ctx context.Context, method, path string, body any, authenticated bool) ([]byte, error) {
	var (
		bodyReader io.Reader
		bodyStr    string
	)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(b)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		if !c.hmacAuth.Valid() {
			return nil, fmt.Errorf("%w: missing L2 credentials", domain.ErrUnauthorized)
		}
		signPath, _, _ := strings.Cut(path, "?")
		for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, signPath, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	return c.send(req)
}

func (c *ClobClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrNetwork, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}
