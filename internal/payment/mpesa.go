package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/imboss96/storefront/internal/config"
)

var (
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrMissingReference = errors.New("order reference required")
)

// ProviderError carries the provider's own message when the request was
// rejected upstream.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return "payment provider: " + e.Message
	}
	return "payment provider: request failed"
}

const (
	// STK push transaction limits, in KES.
	MinAmount = 1
	MaxAmount = 150000
)

type STKPushResult struct {
	MerchantRequestID string `json:"merchant_request_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message"`
}

// Initiator is the wedge handlers depend on; tests substitute a fake.
type Initiator interface {
	InitiateSTKPush(ctx context.Context, phone string, amount float64, reference, description string) (*STKPushResult, error)
}

// Client speaks the Daraja STK push API: an OAuth client-credentials
// token (cached until expiry) followed by a process-request call. It
// never polls for completion; the provider reports the outcome to the
// configured callback URL.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
	httpClient     *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:        cfg.MPESA_BASE_URL,
		consumerKey:    cfg.MPESA_CONSUMER_KEY,
		consumerSecret: cfg.MPESA_CONSUMER_SECRET,
		shortCode:      cfg.MPESA_SHORTCODE,
		passkey:        cfg.MPESA_PASSKEY,
		callbackURL:    cfg.MPESA_CALLBACK_URL,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payment: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payment: token request returned %d: %s", resp.StatusCode, body)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("payment: decode token response: %w", err)
	}

	c.token = tok.AccessToken
	// The provider returns 3599; renew a minute early.
	c.tokenExpiry = time.Now().Add(58 * time.Minute)
	return c.token, nil
}

func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amount float64, reference, description string) (*STKPushResult, error) {
	if reference == "" {
		return nil, ErrMissingReference
	}
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if amount < MinAmount || amount > MaxAmount {
		return nil, ErrAmountOutOfRange
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.shortCode + c.passkey + timestamp))

	payload := map[string]any{
		"BusinessShortCode": c.shortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(math.Ceil(amount)),
		"PartyA":            msisdn,
		"PartyB":            c.shortCode,
		"PhoneNumber":       msisdn,
		"CallBackURL":       c.callbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var r struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		CustomerMessage     string `json:"CustomerMessage"`
		ErrorCode           string `json:"errorCode"`
		ErrorMessage        string `json:"errorMessage"`
		ResponseDescription string `json:"ResponseDescription"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("payment: decode response (%d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || (r.ResponseCode != "" && r.ResponseCode != "0") {
		perr := &ProviderError{Code: r.ErrorCode, Message: r.ErrorMessage}
		if perr.Message == "" {
			perr.Message = r.ResponseDescription
		}
		return nil, perr
	}

	return &STKPushResult{
		MerchantRequestID: r.MerchantRequestID,
		CheckoutRequestID: r.CheckoutRequestID,
		CustomerMessage:   r.CustomerMessage,
	}, nil
}
