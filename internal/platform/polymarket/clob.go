package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/quantfish/polyarb/internal/crypto"
	"github.com/quantfish/polyarb/internal/domain"
)

// usdcDecimals scales both collateral and outcome-token amounts; USDC and
// CTF tokens carry six decimals on Polygon.
const usdcDecimals = 1e6

// zeroAddress is the open-taker sentinel in signed orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient is the REST client for the Polymarket CLOB API. It signs
// orders with EIP-712 and authenticates requests with L2 HMAC headers.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com". hmac
// may be nil; call DeriveAPIKey to obtain credentials at startup.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		hmacAuth:   hmac,
	}
}

// PlaceOrder builds, signs, and submits a GTC limit order for size outcome
// tokens at the given price. Rejections come back inside the result rather
// than as an error so callers can inspect ShouldRetry.
func (c *ClobClient) PlaceOrder(ctx context.Context, tokenID string, side domain.OrderSide, size, price float64) (domain.OrderResult, error) {
	if price <= 0 || price >= 1 {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: price %.4f outside (0,1)", domain.ErrInvalidOrder, price)
	}
	if size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: size must be positive", domain.ErrInvalidOrder)
	}

	order, err := c.buildOrder(tokenID, side, size, price)
	if err != nil {
		return domain.OrderResult{}, err
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          order.Salt,
			"tokenID":       order.TokenID,
			"makerAmount":   order.MakerAmount,
			"takerAmount":   order.TakerAmount,
			"side":          sideLabel(side),
			"feeRateBps":    order.FeeRateBps,
			"nonce":         order.Nonce,
			"expiration":    order.Expiration,
			"signatureType": order.SignatureType,
			"signature":     order.Signature,
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
		},
		"owner":     order.Maker,
		"orderType": string(domain.OrderTypeGTC),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return apiResult.toDomain(), nil
}

// signedOrder pairs an OrderPayload with its signature.
type signedOrder struct {
	crypto.OrderPayload
	Signature string
}

// buildOrder converts price and size into integer maker/taker amounts and
// signs the payload. A buy spends collateral for tokens; a sell does the
// reverse.
func (c *ClobClient) buildOrder(tokenID string, side domain.OrderSide, size, price float64) (signedOrder, error) {
	tokens := big.NewInt(int64(math.Round(size * usdcDecimals)))
	collateral := big.NewInt(int64(math.Round(price * size * usdcDecimals)))

	var makerAmount, takerAmount *big.Int
	var sideCode int
	if side == domain.OrderSideBuy {
		makerAmount, takerAmount = collateral, tokens
		sideCode = 0
	} else {
		makerAmount, takerAmount = tokens, collateral
		sideCode = 1
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return signedOrder{}, fmt.Errorf("polymarket/clob: generating salt: %w", err)
	}

	address := c.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode,
		SignatureType: 0,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return signedOrder{}, fmt.Errorf("polymarket/clob: %w: %w", domain.ErrSigningFailed, err)
	}
	return signedOrder{OrderPayload: payload, Signature: sig}, nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	return decodeCancelResponse(respBody, "cancel")
}

// CancelAll cancels every open order for the authenticated wallet.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}
	return decodeCancelResponse(respBody, "cancel-all")
}

func decodeCancelResponse(respBody []byte, op string) error {
	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode %s response: %w", op, err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: %s failed: %s", op, result.ErrorMsg)
	}
	return nil
}

// ListOpenOrders returns the authenticated wallet's open orders.
func (c *ClobClient) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: list open orders: %w", err)
	}

	var apiOrders []apiOrder
	if err := json.Unmarshal(respBody, &apiOrders); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(apiOrders))
	for i := range apiOrders {
		orders = append(orders, apiOrders[i].toDomain())
	}
	return orders, nil
}

// BookTop is the top of an asset's order book.
type BookTop struct {
	BestBid float64
	BestAsk float64
}

// FetchBookTop returns the best bid and ask for an outcome token. Either
// side may be zero on a one-sided book.
func (c *ClobClient) FetchBookTop(ctx context.Context, tokenID string) (BookTop, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/book?token_id="+tokenID, nil)
	if err != nil {
		return BookTop{}, fmt.Errorf("polymarket/clob: fetch book %s: %w", tokenID, err)
	}

	var book struct {
		Bids []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
	}
	if err := json.Unmarshal(respBody, &book); err != nil {
		return BookTop{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	var top BookTop
	if len(book.Bids) > 0 {
		fmt.Sscanf(book.Bids[0].Price, "%f", &top.BestBid)
	}
	if len(book.Asks) > 0 {
		fmt.Sscanf(book.Asks[0].Price, "%f", &top.BestAsk)
	}
	return top, nil
}

// DeriveAPIKey runs the L1 auth flow to obtain HMAC credentials: it signs a
// ClobAuth message and exchanges it at the derive-api-key endpoint. On
// success the client authenticates subsequent requests with the result.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// doAuthenticatedRequest builds, HMAC-signs, and sends a request against
// the CLOB API, returning the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func sideLabel(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
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
