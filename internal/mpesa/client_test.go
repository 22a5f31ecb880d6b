package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/config"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(baseURL string) config.Mpesa {
	return config.Mpesa{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/mpesa/callback",
		Timeout:        5 * time.Second,
	}
}

func writeToken(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		"access_token": "test-token",
		"expires_in":   "3599",
	})
}

func TestSTKPushSuccess(t *testing.T) {
	var tokenCalls, pushCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			tokenCalls++
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "key", user)
			assert.Equal(t, "secret", pass)
			writeToken(w)
		case "/mpesa/stkpush/v1/processrequest":
			pushCalls++
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "174379", payload["BusinessShortCode"])
			assert.Equal(t, "CustomerPayBillOnline", payload["TransactionType"])
			assert.Equal(t, "254712345678", payload["PhoneNumber"])
			assert.Equal(t, float64(35000), payload["Amount"])
			assert.NotEmpty(t, payload["Password"])
			assert.NotEmpty(t, payload["Timestamp"])

			_ = json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID":   "29115-34620561-1",
				"CheckoutRequestID":   "ws_CO_191220191020363925",
				"ResponseCode":        "0",
				"ResponseDescription": "Success. Request accepted for processing",
				"CustomerMessage":     "Success. Request accepted for processing",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())

	res, err := client.STKPush(context.Background(), PushRequest{
		Amount:           35000,
		Phone:            "254712345678",
		AccountReference: "ORD-20260830-0001",
		Description:      "Payment for order ORD-20260830-0001",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)

	// A second push reuses the cached token.
	_, err = client.STKPush(context.Background(), PushRequest{
		Amount: 35000,
		Phone:  "254712345678",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tokenCalls)
	assert.Equal(t, 2, pushCalls)
}

func TestSTKPushInitiationRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			writeToken(w)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode":        "1",
			"ResponseDescription": "Unable to lock subscriber",
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())

	_, err := client.STKPush(context.Background(), PushRequest{Amount: 100, Phone: "254712345678"})
	require.Error(t, err)

	var initErr *InitiationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "1", initErr.Code)
}

func TestSTKPushRetriesOnExpiredToken(t *testing.T) {
	var tokenCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			tokenCalls++
			writeToken(w)
		case "/mpesa/stkpush/v1/processrequest":
			// First push is rejected as unauthorized, forcing a token refresh.
			if tokenCalls < 2 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			_ = json.NewEncoder(w).Encode(map[string]string{
				"CheckoutRequestID": "ws_CO_1",
				"ResponseCode":      "0",
			})
		}
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())

	res, err := client.STKPush(context.Background(), PushRequest{Amount: 100, Phone: "254712345678"})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)
	assert.Equal(t, 2, tokenCalls)
}

func TestAccessTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())

	_, err := client.STKPush(context.Background(), PushRequest{Amount: 100, Phone: "254712345678"})
	assert.ErrorIs(t, err, ErrGatewayAuth)
}

func TestQueryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			writeToken(w)
		case "/mpesa/stkpushquery/v1/query":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "ws_CO_1", payload["CheckoutRequestID"])

			_ = json.NewEncoder(w).Encode(map[string]string{
				"ResponseCode":      "0",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode":        "1032",
				"ResultDesc":        "Request cancelled by user",
			})
		}
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())

	res, err := client.QueryStatus(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "1032", res.ResultCode)
}

func TestCallbackOutcomeSuccess(t *testing.T) {
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 35000.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20191219102115},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`

	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &envelope))

	outcome := envelope.Outcome()
	assert.True(t, outcome.Success)
	assert.Equal(t, "ws_CO_191220191020363925", outcome.CheckoutRequestID)
	assert.Equal(t, "NLJ7RT61SV", outcome.Receipt)
	assert.Equal(t, "254712345678", outcome.Phone)
	require.NotNil(t, outcome.Amount)
	assert.Equal(t, int64(35000), *outcome.Amount)
	require.NotNil(t, outcome.PaidAt)
}

func TestCallbackOutcomeFailure(t *testing.T) {
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`

	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &envelope))

	outcome := envelope.Outcome()
	assert.False(t, outcome.Success)
	assert.Equal(t, 1032, outcome.ResultCode)
	assert.Nil(t, outcome.Amount)
	assert.Empty(t, outcome.Receipt)
}

func TestBreakerOpensAfterTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(testConfig(srv.URL), zap.NewNop())
	client.token = "test-token"
	client.tokenExpiry = time.Now().Add(time.Hour)

	for i := 0; i < 5; i++ {
		_, err := client.STKPush(context.Background(), PushRequest{Amount: 100, Phone: "254712345678"})
		require.ErrorIs(t, err, ErrGatewayUnavailable)
	}

	require.Equal(t, gobreaker.StateOpen, client.breaker.State())

	// An open breaker fails fast and still classifies as unavailable.
	_, err := client.STKPush(context.Background(), PushRequest{Amount: 100, Phone: "254712345678"})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}
