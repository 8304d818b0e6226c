package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/metrics"
	"github.com/imboss96/storefront/internal/models"
	"github.com/imboss96/storefront/internal/mykafka"
	"github.com/imboss96/storefront/internal/notify"
	"github.com/imboss96/storefront/internal/service/token"
)

type OrderHandler struct {
	DB         *gorm.DB
	Producer   mykafka.Publisher
	Dispatcher *notify.Dispatcher
	Metrics    *metrics.StoreMetrics
}

func (h *OrderHandler) GetMyOrders(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	var orders []models.Order
	if err := h.DB.Preload("Items").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&orders).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}
	role, _ := c.Get("role").(string)

	var order models.Order
	if err := h.DB.Preload("Items").First(&order, c.Param("id")).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	if order.UserID != userID && role != "admin" && role != "vendor" {
		return echo.NewHTTPError(http.StatusForbidden, "not your order")
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	q := h.DB.Preload("Items").Order("id DESC")
	if s := c.QueryParam("status"); s != "" {
		q = q.Where("status = ?", s)
	}

	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, orders)
}

// SetStatus advances an order through the status machine. The update is
// a compare-and-swap on the version column so concurrent admin writes
// cannot silently overwrite each other. Exactly one status email is
// queued per applied transition; delivery failures never surface here.
func (h *OrderHandler) SetStatus(c echo.Context) error {
	var req struct {
		Status          models.OrderStatus `json:"status"`
		ExpectedVersion *uint              `json:"expected_version"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !models.ValidStatus(req.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
	}

	var order models.Order
	if err := h.DB.Preload("Items").First(&order, c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if !models.CanTransition(order.Status, req.Status) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			fmt.Sprintf("cannot transition %s -> %s", order.Status, req.Status))
	}

	expected := order.Version
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}

	res := h.DB.Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, expected).
		Updates(map[string]any{
			"status":  req.Status,
			"version": expected + 1,
		})
	if res.Error != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusConflict, "order was modified concurrently, reload and retry")
	}

	order.Status = req.Status
	order.Version = expected + 1

	if h.Metrics != nil {
		h.Metrics.StatusTransitions.WithLabelValues(string(req.Status)).Inc()
	}
	h.Dispatcher.EnqueueOrderEvent(&order, string(req.Status))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, mykafka.TopicOrderEvents, fmt.Sprint(order.ID), map[string]any{
		"type":    "order_status_changed",
		"userID":  order.UserID,
		"orderID": order.ID,
		"status":  order.Status,
	}); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}

	return c.JSON(http.StatusOK, order)
}
