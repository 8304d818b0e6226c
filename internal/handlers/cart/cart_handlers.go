package cart

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/models"
	"github.com/imboss96/storefront/internal/mykafka"
	"github.com/imboss96/storefront/internal/service/token"
)

// Stock limits are a hard wall: a mutation that would pass the product's
// stock is rejected and the line left unchanged, never clamped.
var (
	ErrOutOfStock    = errors.New("product is out of stock")
	ErrStockExceeded = errors.New("requested quantity exceeds available stock")
)

type CartHandler struct {
	DB       *gorm.DB
	Producer mykafka.Publisher
}

func (h *CartHandler) GetCart(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	lines, subtotal, count, err := h.lines(userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{
		"items":    lines,
		"subtotal": subtotal,
		"count":    count,
	})
}

func (h *CartHandler) AddToCart(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var product models.Product
	if err := h.DB.First(&product, req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if product.Stock == 0 {
		return echo.NewHTTPError(http.StatusConflict, ErrOutOfStock.Error())
	}

	var item models.CartItem
	tx := h.DB.Where("user_id = ? AND product_id = ?", userID, req.ProductID).First(&item)
	if tx.Error == nil {
		if item.Quantity+1 > product.Stock {
			return echo.NewHTTPError(http.StatusConflict, ErrStockExceeded.Error())
		}
		item.Quantity++
		if err := h.DB.Save(&item).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.publish(c, map[string]any{
			"type":      "cart_item_added",
			"userID":    userID,
			"productID": req.ProductID,
			"quantity":  item.Quantity,
		})
		return c.JSON(http.StatusOK, item)
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, tx.Error.Error())
	}

	newItem := models.CartItem{
		UserID:    userID,
		ProductID: req.ProductID,
		Quantity:  1,
	}
	if err := h.DB.Create(&newItem).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.publish(c, map[string]any{
		"type":      "cart_item_added",
		"userID":    userID,
		"productID": req.ProductID,
		"quantity":  newItem.Quantity,
	})
	return c.JSON(http.StatusOK, newItem)
}

func (h *CartHandler) ChangeQuantity(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	productID, err := strconv.Atoi(c.Param("productID"))
	if err != nil || productID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	var req struct {
		Delta int `json:"delta"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var item models.CartItem
	if err := h.DB.Where("user_id = ? AND product_id = ?", userID, productID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not in cart")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	newQuantity := int(item.Quantity) + req.Delta

	if newQuantity <= 0 {
		if err := h.DB.Delete(&item).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.publish(c, map[string]any{
			"type":      "cart_item_removed",
			"userID":    userID,
			"productID": productID,
		})
		return c.JSON(http.StatusOK, echo.Map{"removed": productID})
	}

	var product models.Product
	if err := h.DB.First(&product, productID).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if uint(newQuantity) > product.Stock {
		return echo.NewHTTPError(http.StatusConflict, ErrStockExceeded.Error())
	}

	item.Quantity = uint(newQuantity)
	if err := h.DB.Save(&item).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.publish(c, map[string]any{
		"type":      "cart_quantity_changed",
		"userID":    userID,
		"productID": productID,
		"quantity":  item.Quantity,
	})
	return c.JSON(http.StatusOK, item)
}

func (h *CartHandler) RemoveItem(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	productID, err := strconv.Atoi(c.Param("productID"))
	if err != nil || productID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	// Unconditional; removing an absent line is a no-op.
	if err := h.DB.
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&models.CartItem{}).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]any{
		"type":      "cart_item_removed",
		"userID":    userID,
		"productID": productID,
	})
	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) Clear(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	if err := h.DB.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]any{
		"type":   "cart_cleared",
		"userID": userID,
	})
	return c.NoContent(http.StatusNoContent)
}
