package checkout

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/models"
)

// PaymentCallback receives the provider's asynchronous STK push result
// and reconciles the matching payment_pending order: success moves it
// to pending, marks it paid and clears the buyer's cart; failure marks
// the payment failed and leaves the order retryable.
func (h *CheckoutHandler) PaymentCallback(c echo.Context) error {
	var req struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cb := req.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "CheckoutRequestID is required")
	}

	var order models.Order
	if err := h.DB.Preload("Items").
		Where("checkout_request_id = ?", cb.CheckoutRequestID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.Logger().Warnf("payment callback for unknown checkout request %s", cb.CheckoutRequestID)
			return echo.NewHTTPError(http.StatusNotFound, "unknown checkout request")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// The provider redelivers callbacks it thinks timed out; a paid
	// order has already been reconciled and must not be touched again.
	if order.PaymentStatus == models.PaymentStatusPaid {
		return c.JSON(http.StatusOK, echo.Map{"result": "already processed"})
	}

	if cb.ResultCode != 0 {
		if err := h.DB.Model(&order).Update("payment_status", models.PaymentStatusFailed).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.publish(c, map[string]any{
			"type":    "payment_failed",
			"userID":  order.UserID,
			"orderID": order.ID,
			"reason":  cb.ResultDesc,
		})
		return c.JSON(http.StatusOK, echo.Map{"result": "noted"})
	}

	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"payment_status": models.PaymentStatusPaid,
			"version":        order.Version + 1,
		}
		if order.Status == models.StatusPaymentPending {
			updates["status"] = models.StatusPending
		}
		if err := tx.Model(&order).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", order.UserID).Delete(&models.CartItem{}).Error
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	order.Status = models.StatusPending
	order.PaymentStatus = models.PaymentStatusPaid
	h.Dispatcher.EnqueueOrderEvent(&order, string(models.StatusPending))
	h.publish(c, map[string]any{
		"type":    "payment_confirmed",
		"userID":  order.UserID,
		"orderID": order.ID,
	})

	return c.JSON(http.StatusOK, echo.Map{"result": "ok"})
}
