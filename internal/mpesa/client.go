package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/config"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	"github.com/JOMO418/furniture-hub-backend/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const timestampLayout = "20060102150405"

// tokenSafetyMargin renews the bearer token before the gateway's declared
// expiry so an in-flight request never races the cutoff.
const tokenSafetyMargin = 30 * time.Second

var (
	// ErrGatewayAuth: the gateway rejected our consumer credentials.
	ErrGatewayAuth = errors.New("mpesa gateway authentication failed")
	// ErrGatewayUnavailable: transport-level failure, safe for the caller to retry.
	ErrGatewayUnavailable = errors.New("mpesa gateway unavailable")
)

// InitiationError is a business rejection reported by the gateway itself,
// distinct from transport failure.
type InitiationError struct {
	Code    string
	Message string
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("payment initiation rejected by gateway (code %s): %s", e.Code, e.Message)
}

// Client talks to the Daraja STK push API. The config value is immutable
// after construction.
type Client struct {
	cfg        config.Mpesa
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg config.Mpesa, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "MpesaGateway",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// password derives the request credential from shortcode, passkey and a fresh
// timestamp. The timestamp must match the one declared in the payload, so
// both are produced together.
func (c *Client) password(now time.Time) (string, string) {
	timestamp := now.Format(timestampLayout)
	raw := c.cfg.ShortCode + c.cfg.Passkey + timestamp

	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

// STKPush asks the gateway to prompt the payer's phone. A "0" response code
// only means the push reached the device, not that the payment completed.
func (c *Client) STKPush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	password, timestamp := c.password(time.Now())

	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var res PushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", payload, &res); err != nil {
		return nil, err
	}

	if res.ResponseCode != "0" {
		return nil, &InitiationError{Code: res.ResponseCode, Message: res.ResponseDesc}
	}

	mylogger.Info(
		ctx,
		c.logger,
		"STK push accepted",
		zap.String("checkout_request_id", res.CheckoutRequestID),
	)

	return &res, nil
}

// QueryStatus polls the gateway for the outcome of an earlier push. Used as a
// fallback when no callback has arrived within the expected window.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	password, timestamp := c.password(time.Now())

	payload := stkQueryPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var res QueryResponse
	if err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", payload, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.doAuthorized(ctx, path, body)
	if err != nil {
		return err
	}

	if resp.statusCode/100 != 2 {
		var apiErr apiError
		if err := json.Unmarshal(resp.body, &apiErr); err == nil && apiErr.ErrorMessage != "" {
			return &InitiationError{Code: apiErr.ErrorCode, Message: apiErr.ErrorMessage}
		}

		return fmt.Errorf("gateway returned status %d: %w", resp.statusCode, ErrGatewayUnavailable)
	}

	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("malformed gateway response: %w", ErrGatewayUnavailable)
	}

	return nil
}

type gatewayResponse struct {
	statusCode int
	body       []byte
}

// doAuthorized sends the signed request with a bearer token, refreshing the
// token once if the gateway answers 401.
func (c *Client) doAuthorized(ctx context.Context, path string, body []byte) (*gatewayResponse, error) {
	token, err := c.accessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, path, body, token)
	if err != nil {
		return nil, err
	}

	if resp.statusCode == http.StatusUnauthorized {
		token, err = c.accessToken(ctx, true)
		if err != nil {
			return nil, err
		}

		return c.send(ctx, path, body, token)
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, path string, body []byte, token string) (*gatewayResponse, error) {
	return c.execute(func() (*gatewayResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("gateway request failed: %v: %w", err, ErrGatewayUnavailable)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading gateway response failed: %v: %w", err, ErrGatewayUnavailable)
		}

		return &gatewayResponse{statusCode: resp.StatusCode, body: respBody}, nil
	})
}

func (c *Client) execute(fn func() (*gatewayResponse, error)) (*gatewayResponse, error) {
	res, err := utils.ExecuteWithBreaker(c.breaker, fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit breaker open: %w", ErrGatewayUnavailable)
		}

		return nil, err
	}

	return res, nil
}

// accessToken returns a cached bearer token, exchanging basic-auth consumer
// credentials for a fresh one on expiry or when force is set.
func (c *Client) accessToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials",
		nil,
	)
	if err != nil {
		return "", err
	}

	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %v: %w", err, ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("token request returned status %d: %w", resp.StatusCode, ErrGatewayAuth)
	}

	var tokenRes tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenRes); err != nil {
		return "", fmt.Errorf("malformed token response: %w", ErrGatewayAuth)
	}

	if tokenRes.AccessToken == "" {
		return "", fmt.Errorf("empty access token: %w", ErrGatewayAuth)
	}

	ttl := time.Hour
	if seconds, err := strconv.Atoi(tokenRes.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}

	c.token = tokenRes.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - tokenSafetyMargin)

	return c.token, nil
}

func formatNumericPhone(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatNumericTimestamp(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}
