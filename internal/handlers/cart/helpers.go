package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/imboss96/storefront/internal/models"
	"github.com/imboss96/storefront/internal/mykafka"
)

type Line struct {
	models.CartItem
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Stock   uint    `json:"stock"`
	LineSum float64 `json:"line_sum"`
}

// lines joins cart rows against the live catalog and computes the
// derived totals fresh on every call.
func (h *CartHandler) lines(userID uint) ([]Line, float64, uint, error) {
	var items []models.CartItem
	if err := h.DB.Where("user_id = ?", userID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, 0, 0, err
	}

	lines := make([]Line, 0, len(items))
	var subtotal float64
	var count uint
	for _, it := range items {
		var p models.Product
		if err := h.DB.First(&p, it.ProductID).Error; err != nil {
			return nil, 0, 0, fmt.Errorf("load product %d: %w", it.ProductID, err)
		}
		sum := p.Price * float64(it.Quantity)
		lines = append(lines, Line{
			CartItem: it,
			Name:     p.Name,
			Price:    p.Price,
			Stock:    p.Stock,
			LineSum:  sum,
		})
		subtotal += sum
		count += it.Quantity
	}
	return lines, subtotal, count, nil
}

func (h *CartHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, mykafka.TopicCartEvents, fmt.Sprint(event["userID"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
