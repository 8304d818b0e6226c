package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/models"
	"github.com/imboss96/storefront/internal/notify"
	"github.com/imboss96/storefront/internal/payment"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (f *fakePublisher) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		f.events = append(f.events, m)
	}
	return nil
}

type fakeInitiator struct {
	mu     sync.Mutex
	err    error
	calls  int
	phone  string
	amount float64
	ref    string
}

func (f *fakeInitiator) InitiateSTKPush(ctx context.Context, phone string, amount float64, reference, description string) (*payment.STKPushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.phone, f.amount, f.ref = phone, amount, reference
	if f.err != nil {
		return nil, f.err
	}
	return &payment.STKPushResult{
		CheckoutRequestID: "ws_CO_test",
		CustomerMessage:   "Request accepted for processing",
	}, nil
}

type captureRelay struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *captureRelay) Send(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *captureRelay) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.sent...)
}

type memIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memIdem) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memIdem) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

type testEnv struct {
	E          *echo.Echo
	DB         *gorm.DB
	H          *CheckoutHandler
	Relay      *captureRelay
	Pay        *fakeInitiator
	Dispatcher *notify.Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Product{}, &models.CartItem{}, &models.Order{}, &models.OrderItem{},
	))

	relay := &captureRelay{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := notify.NewDispatcher(relay, "Test Store", logger, notify.WithBackoff(time.Millisecond))
	t.Cleanup(dispatcher.Close)

	pay := &fakeInitiator{}
	env := &testEnv{
		E:          echo.New(),
		DB:         db,
		Relay:      relay,
		Pay:        pay,
		Dispatcher: dispatcher,
	}
	env.H = &CheckoutHandler{
		DB:                    db,
		Producer:              &fakePublisher{},
		Payments:              pay,
		Dispatcher:            dispatcher,
		Idem:                  &memIdem{},
		FreeShippingThreshold: 5000,
		ShippingFee:           300,
	}
	return env
}

func (env *testEnv) doJSONRequest(t *testing.T, method, target string, body any, headers ...[2]string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	c.Set("userID", uint(1))
	c.Set("role", "user")
	return rec, c
}

func validShipping(method string) map[string]string {
	return map[string]string{
		"full_name":      "Jane Buyer",
		"email":          "jane@example.com",
		"phone":          "0712345678",
		"address":        "12 Riverside Dr",
		"city":           "Nairobi",
		"county":         "Nairobi",
		"payment_method": method,
	}
}

func (env *testEnv) seedCart(t *testing.T, price float64, stock, qty uint) {
	t.Helper()
	env.DB.Create(&models.Product{Name: "Widget", Price: price, Stock: stock})
	env.DB.Create(&models.CartItem{UserID: 1, ProductID: 1, Quantity: qty})
}

func (env *testEnv) orderCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.DB.Model(&models.Order{}).Count(&n).Error)
	return n
}

func (env *testEnv) cartCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.DB.Model(&models.CartItem{}).Where("user_id = ?", 1).Count(&n).Error)
	return n
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestPlaceOrderValidationNamesFirstMissingField(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 1000, 3, 2)

	// Both full_name and city are missing; full_name comes first in the
	// fixed field order.
	body := validShipping(models.PaymentMethodCashOnDelivery)
	delete(body, "full_name")
	delete(body, "city")

	_, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", body)
	err := env.H.PlaceOrder(c)
	require.Equal(t, http.StatusBadRequest, httpCode(t, err))
	require.Contains(t, err.(*echo.HTTPError).Message, "full_name")

	// Validation failures must not persist anything.
	require.Zero(t, env.orderCount(t))
	require.Equal(t, int64(1), env.cartCount(t))
}

func TestPlaceOrderRejectsUnknownPaymentMethod(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 1000, 3, 2)

	_, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping("crypto"))
	err := env.H.PlaceOrder(c)
	require.Equal(t, http.StatusBadRequest, httpCode(t, err))
	require.Zero(t, env.orderCount(t))
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	env := newTestEnv(t)

	_, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery))
	err := env.H.PlaceOrder(c)
	require.Equal(t, http.StatusBadRequest, httpCode(t, err))
	require.Zero(t, env.orderCount(t))
}

func TestPlaceOrderCashOnDelivery(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 1000, 3, 2)

	rec, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery))
	require.NoError(t, env.H.PlaceOrder(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		OrderID     uint               `json:"order_id"`
		Status      models.OrderStatus `json:"status"`
		Subtotal    float64            `json:"subtotal"`
		ShippingFee float64            `json:"shipping_fee"`
		Total       float64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, models.StatusPending, resp.Status)
	require.Equal(t, float64(2000), resp.Subtotal)
	require.Equal(t, float64(300), resp.ShippingFee)
	require.Equal(t, float64(2300), resp.Total)

	var order models.Order
	require.NoError(t, env.DB.Preload("Items").First(&order, resp.OrderID).Error)
	require.Equal(t, models.StatusPending, order.Status)
	require.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	require.Len(t, order.Items, 1)
	require.Equal(t, "Widget", order.Items[0].Name)
	require.Equal(t, uint(2), order.Items[0].Quantity)

	// Cart is cleared on the deferred-payment path.
	require.Zero(t, env.cartCount(t))

	// Stock was decremented inside the same transaction.
	var p models.Product
	require.NoError(t, env.DB.First(&p, 1).Error)
	require.Equal(t, uint(1), p.Stock)

	// No STK push for cash on delivery.
	require.Zero(t, env.Pay.calls)

	// Exactly one confirmation email, addressed to the buyer.
	env.Dispatcher.Close()
	sent := env.Relay.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "jane@example.com", sent[0].To)
	require.Contains(t, sent[0].Subject, "confirmed")
}

func TestPlaceOrderFreeShippingAboveThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 3000, 5, 2) // subtotal 6000 > 5000

	rec, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery))
	require.NoError(t, env.H.PlaceOrder(c))

	var resp struct {
		ShippingFee float64 `json:"shipping_fee"`
		Total       float64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Zero(t, resp.ShippingFee)
	require.Equal(t, float64(6000), resp.Total)
}

func TestPlaceOrderMobileMoney(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 1000, 3, 2)

	rec, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodMobileMoney))
	require.NoError(t, env.H.PlaceOrder(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		OrderID       uint               `json:"order_id"`
		Status        models.OrderStatus `json:"status"`
		PaymentPrompt string             `json:"payment_prompt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, models.StatusPaymentPending, resp.Status)
	require.NotEmpty(t, resp.PaymentPrompt)

	require.Equal(t, 1, env.Pay.calls)
	require.Equal(t, float64(2300), env.Pay.amount)

	var order models.Order
	require.NoError(t, env.DB.First(&order, resp.OrderID).Error)
	require.Equal(t, models.StatusPaymentPending, order.Status)
	require.Equal(t, "ws_CO_test", order.CheckoutRequestID)

	// Cart survives until the payment confirms.
	require.Equal(t, int64(1), env.cartCount(t))

	// No confirmation email before payment.
	env.Dispatcher.Close()
	require.Empty(t, env.Relay.messages())
}

func TestPlaceOrderMobileMoneyInitiationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 1000, 3, 2)
	env.Pay.err = errors.New("provider down")

	rec, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodMobileMoney))
	require.NoError(t, env.H.PlaceOrder(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		OrderID      uint   `json:"order_id"`
		PaymentError string `json:"payment_error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.PaymentError, "retry payment")

	// The order survives the failed initiation; no rollback.
	var order models.Order
	require.NoError(t, env.DB.First(&order, resp.OrderID).Error)
	require.Equal(t, models.StatusPaymentPending, order.Status)
	require.Equal(t, int64(1), env.orderCount(t))
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 1000, 5, 2)

	key := [2]string{IdempotencyHeader, "abc-123"}
	_, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery), key)
	require.NoError(t, env.H.PlaceOrder(c))

	env.seedCart(t, 1000, 5, 2)
	_, c = env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery), key)
	err := env.H.PlaceOrder(c)
	require.Equal(t, http.StatusConflict, httpCode(t, err))
	require.Equal(t, int64(1), env.orderCount(t))
}

func TestPlaceOrderIdempotencyKeyReleasedOnFailure(t *testing.T) {
	env := newTestEnv(t)

	// First attempt fails in the transaction (empty cart) and persists
	// nothing, so the key must be freed for a retry.
	key := [2]string{IdempotencyHeader, "retry-same-key"}
	_, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery), key)
	err := env.H.PlaceOrder(c)
	require.Equal(t, http.StatusBadRequest, httpCode(t, err))
	require.Zero(t, env.orderCount(t))

	env.seedCart(t, 1000, 5, 2)
	rec, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery), key)
	require.NoError(t, env.H.PlaceOrder(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, int64(1), env.orderCount(t))
}

func TestPlaceOrderStockExceededAtCheckout(t *testing.T) {
	env := newTestEnv(t)
	// Cart quantity was valid once, but stock has since dropped.
	env.DB.Create(&models.Product{Name: "Widget", Price: 1000, Stock: 1})
	env.DB.Create(&models.CartItem{UserID: 1, ProductID: 1, Quantity: 2})

	_, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodCashOnDelivery))
	err := env.H.PlaceOrder(c)
	require.Equal(t, http.StatusConflict, httpCode(t, err))
	require.Zero(t, env.orderCount(t))

	// Nothing was decremented.
	var p models.Product
	require.NoError(t, env.DB.First(&p, 1).Error)
	require.Equal(t, uint(1), p.Stock)
}

func TestRetryPayment(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(t, 1000, 3, 2)
	env.Pay.err = errors.New("provider down")

	rec, c := env.doJSONRequest(t, http.MethodPost, "/api/v1/checkout", validShipping(models.PaymentMethodMobileMoney))
	require.NoError(t, env.H.PlaceOrder(c))

	var resp struct {
		OrderID uint `json:"order_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	env.Pay.err = nil
	rec, c = env.doJSONRequest(t, http.MethodPost, "/api/v1/orders/1/pay", nil)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.NoError(t, env.H.RetryPayment(c))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, env.Pay.calls)

	var order models.Order
	require.NoError(t, env.DB.First(&order, resp.OrderID).Error)
	require.Equal(t, "ws_CO_test", order.CheckoutRequestID)
}
