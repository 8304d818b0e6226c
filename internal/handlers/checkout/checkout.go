package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/handlers/cart"
	"github.com/imboss96/storefront/internal/metrics"
	"github.com/imboss96/storefront/internal/models"
	"github.com/imboss96/storefront/internal/mykafka"
	"github.com/imboss96/storefront/internal/notify"
	"github.com/imboss96/storefront/internal/payment"
	"github.com/imboss96/storefront/internal/redisstore"
	"github.com/imboss96/storefront/internal/service/token"
)

const IdempotencyHeader = "Idempotency-Key"

type CheckoutHandler struct {
	DB         *gorm.DB
	Producer   mykafka.Publisher
	Payments   payment.Initiator
	Dispatcher *notify.Dispatcher
	Idem       redisstore.IdempotencyStore
	Metrics    *metrics.StoreMetrics

	FreeShippingThreshold float64
	ShippingFee           float64
}

type shippingRequest struct {
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	County        string `json:"county"`
	PostalCode    string `json:"postal_code"`
	PaymentMethod string `json:"payment_method"`
}

// validate checks required fields in a fixed order and names the first
// missing one. Postal code is optional.
func (r *shippingRequest) validate() error {
	required := []struct {
		name, value string
	}{
		{"full_name", r.FullName},
		{"email", r.Email},
		{"phone", r.Phone},
		{"address", r.Address},
		{"city", r.City},
		{"county", r.County},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if !models.ValidPaymentMethod(r.PaymentMethod) {
		return fmt.Errorf("unsupported payment method %q", r.PaymentMethod)
	}
	return nil
}

type checkoutResponse struct {
	OrderID       uint               `json:"order_id"`
	Reference     string             `json:"reference"`
	Status        models.OrderStatus `json:"status"`
	Subtotal      float64            `json:"subtotal"`
	ShippingFee   float64            `json:"shipping_fee"`
	Total         float64            `json:"total"`
	PaymentPrompt string             `json:"payment_prompt,omitempty"`
	PaymentError  string             `json:"payment_error,omitempty"`
}

// PlaceOrder converts the caller's cart plus shipping input into a
// persisted order and, for mobile money, fires the STK push. Order
// creation and payment initiation are deliberately independent: an
// initiation failure leaves the order in payment_pending for a retry,
// it never rolls the order back.
func (h *CheckoutHandler) PlaceOrder(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	var req shippingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var claimedKey string
	if key := c.Request().Header.Get(IdempotencyHeader); key != "" && h.Idem != nil {
		claimedKey = fmt.Sprintf("%d:%s", userID, key)
		ok, err := h.Idem.SetIdempotency(c.Request().Context(), claimedKey)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "idempotency check failed")
		}
		if !ok {
			return echo.NewHTTPError(http.StatusConflict, "duplicate checkout request")
		}
	}

	status := models.StatusPending
	if req.PaymentMethod == models.PaymentMethodMobileMoney {
		status = models.StatusPaymentPending
	}

	var order models.Order
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		var items []models.CartItem
		if err := tx.Where("user_id = ?", userID).Order("id ASC").Find(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "no items in cart")
		}

		var subtotal float64
		orderItems := make([]models.OrderItem, 0, len(items))
		for _, it := range items {
			var p models.Product
			if err := tx.First(&p, it.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return echo.NewHTTPError(http.StatusBadRequest, "product no longer available")
				}
				return err
			}
			if it.Quantity > p.Stock {
				return echo.NewHTTPError(http.StatusConflict, cart.ErrStockExceeded.Error())
			}
			p.Stock -= it.Quantity
			if err := tx.Save(&p).Error; err != nil {
				return err
			}
			subtotal += p.Price * float64(it.Quantity)
			orderItems = append(orderItems, models.OrderItem{
				ProductID: p.ID,
				Name:      p.Name,
				Price:     p.Price,
				Quantity:  it.Quantity,
			})
		}

		shippingFee := h.ShippingFee
		if subtotal > h.FreeShippingThreshold {
			shippingFee = 0
		}

		order = models.Order{
			Reference:     uuid.NewString(),
			UserID:        userID,
			Items:         orderItems,
			FullName:      req.FullName,
			Email:         req.Email,
			Phone:         req.Phone,
			Address:       req.Address,
			City:          req.City,
			County:        req.County,
			PostalCode:    req.PostalCode,
			PaymentMethod: req.PaymentMethod,
			Subtotal:      subtotal,
			ShippingFee:   shippingFee,
			Total:         subtotal + shippingFee,
			Status:        status,
			PaymentStatus: models.PaymentStatusPending,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		// The mobile-money cart survives until payment confirms.
		if req.PaymentMethod != models.PaymentMethodMobileMoney {
			if err := tx.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		// Nothing persisted, so the key must not block a retry.
		if claimedKey != "" {
			if err := h.Idem.ReleaseIdempotency(c.Request().Context(), claimedKey); err != nil {
				c.Logger().Errorf("failed to release idempotency key: %v", err)
			}
		}
		var he *echo.HTTPError
		if errors.As(txErr, &he) {
			return he
		}
		c.Logger().Errorf("order creation failed: %v", txErr)
		return echo.NewHTTPError(http.StatusInternalServerError, "order creation failed")
	}

	if h.Metrics != nil {
		h.Metrics.OrdersCreated.WithLabelValues(order.PaymentMethod).Inc()
	}

	resp := checkoutResponse{
		OrderID:     order.ID,
		Reference:   order.Reference,
		Status:      order.Status,
		Subtotal:    order.Subtotal,
		ShippingFee: order.ShippingFee,
		Total:       order.Total,
	}

	if order.PaymentMethod == models.PaymentMethodMobileMoney {
		prompt, payErr := h.initiatePayment(c, &order)
		if payErr != nil {
			resp.PaymentError = "payment initiation failed, retry payment for this order"
		} else {
			resp.PaymentPrompt = prompt
		}
	} else {
		h.Dispatcher.EnqueueOrderEvent(&order, notify.EventOrderConfirmed)
	}

	h.publish(c, map[string]any{
		"type":           "order_created",
		"userID":         userID,
		"orderID":        order.ID,
		"reference":      order.Reference,
		"status":         order.Status,
		"payment_method": order.PaymentMethod,
		"total":          order.Total,
	})

	return c.JSON(http.StatusCreated, resp)
}

// RetryPayment re-fires the STK push for an order stranded in
// payment_pending after a failed or abandoned initiation.
func (h *CheckoutHandler) RetryPayment(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	var order models.Order
	if err := h.DB.Preload("Items").
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		First(&order).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	if order.Status != models.StatusPaymentPending {
		return echo.NewHTTPError(http.StatusConflict, "order is not awaiting payment")
	}

	prompt, payErr := h.initiatePayment(c, &order)
	if payErr != nil {
		return echo.NewHTTPError(http.StatusBadGateway, payErr.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"payment_prompt": prompt})
}

func (h *CheckoutHandler) initiatePayment(c echo.Context, order *models.Order) (string, error) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 20*time.Second)
	defer cancel()

	desc := fmt.Sprintf("Order %d", order.ID)
	result, err := h.Payments.InitiateSTKPush(ctx, order.Phone, order.Total, order.Reference, desc)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.PaymentInitiations.WithLabelValues("failed").Inc()
		}
		c.Logger().Errorf("payment initiation failed for order %d: %v", order.ID, err)
		h.publish(c, map[string]any{
			"type":    "payment_initiation_failed",
			"userID":  order.UserID,
			"orderID": order.ID,
			"error":   err.Error(),
		})
		return "", err
	}

	if h.Metrics != nil {
		h.Metrics.PaymentInitiations.WithLabelValues("ok").Inc()
	}
	if err := h.DB.Model(order).Update("checkout_request_id", result.CheckoutRequestID).Error; err != nil {
		c.Logger().Errorf("failed to store checkout request id for order %d: %v", order.ID, err)
	}
	h.publish(c, map[string]any{
		"type":                "payment_initiated",
		"userID":              order.UserID,
		"orderID":             order.ID,
		"checkout_request_id": result.CheckoutRequestID,
	})
	return result.CustomerMessage, nil
}

func (h *CheckoutHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, mykafka.TopicOrderEvents, fmt.Sprint(event["orderID"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
