package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imboss96/storefront/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.Config{
		MPESA_BASE_URL:        srv.URL,
		MPESA_CONSUMER_KEY:    "key",
		MPESA_CONSUMER_SECRET: "secret",
		MPESA_SHORTCODE:       "174379",
		MPESA_PASSKEY:         "passkey",
		MPESA_CALLBACK_URL:    "https://example.com/callback",
	})
}

func TestInitiateSTKPushValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be issued for invalid input")
	})

	_, err := c.InitiateSTKPush(context.Background(), "0712345678", 100, "", "order")
	require.ErrorIs(t, err, ErrMissingReference)

	_, err = c.InitiateSTKPush(context.Background(), "not-a-phone", 100, "ref", "order")
	require.ErrorIs(t, err, ErrInvalidPhone)

	_, err = c.InitiateSTKPush(context.Background(), "0712345678", 0.5, "ref", "order")
	require.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = c.InitiateSTKPush(context.Background(), "0712345678", 200000, "ref", "order")
	require.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestInitiateSTKPushSuccess(t *testing.T) {
	var gotPush map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			require.Equal(t, "key", user)
			require.Equal(t, "secret", pass)
			json.NewEncoder(w).Encode(map[string]string{
				"access_token": "tok", "expires_in": "3599",
			})
		case "/mpesa/stkpush/v1/processrequest":
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPush))
			json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResponseCode":      "0",
				"CustomerMessage":   "Success. Request accepted for processing",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := c.InitiateSTKPush(context.Background(), "0712345678", 2300, "ref-1", "Order 1")
	require.NoError(t, err)
	require.Equal(t, "ws_CO_1", res.CheckoutRequestID)
	require.Equal(t, "Success. Request accepted for processing", res.CustomerMessage)

	require.Equal(t, "254712345678", gotPush["PhoneNumber"])
	require.Equal(t, "ref-1", gotPush["AccountReference"])
	require.Equal(t, float64(2300), gotPush["Amount"])
}

func TestInitiateSTKPushProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "500.001.1001",
			"errorMessage": "Unable to lock subscriber",
		})
	})

	_, err := c.InitiateSTKPush(context.Background(), "0712345678", 100, "ref", "Order 1")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "Unable to lock subscriber", perr.Message)
}

func TestAccessTokenCached(t *testing.T) {
	tokenCalls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			tokenCalls++
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"CheckoutRequestID": "ws_CO_1", "ResponseCode": "0",
		})
	})

	for i := 0; i < 3; i++ {
		_, err := c.InitiateSTKPush(context.Background(), "0712345678", 100, "ref", "Order 1")
		require.NoError(t, err)
	}
	require.Equal(t, 1, tokenCalls)
}
