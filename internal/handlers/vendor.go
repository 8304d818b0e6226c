package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/models"
	"github.com/imboss96/storefront/internal/mykafka"
	"github.com/imboss96/storefront/internal/notify"
	"github.com/imboss96/storefront/internal/service/token"
)

type VendorHandler struct {
	DB         *gorm.DB
	Producer   mykafka.Publisher
	Dispatcher *notify.Dispatcher
}

func (h *VendorHandler) publish(c echo.Context, userID uint, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, mykafka.TopicUserEvents, fmt.Sprint(userID), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}

func (h *VendorHandler) Apply(c echo.Context) error {
	userID, err := token.UserID(c)
	if err != nil {
		return err
	}

	var req struct {
		BusinessName        string `json:"business_name"`
		BusinessCategory    string `json:"business_category"`
		ContactPhone        string `json:"contact_phone"`
		BusinessAddress     string `json:"business_address"`
		BusinessDescription string `json:"business_description"`
		Email               string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	required := []struct{ name, value string }{
		{"business_name", req.BusinessName},
		{"business_category", req.BusinessCategory},
		{"contact_phone", req.ContactPhone},
		{"business_address", req.BusinessAddress},
		{"email", req.Email},
	}
	for _, f := range required {
		if f.value == "" {
			return echo.NewHTTPError(http.StatusBadRequest, f.name+" is required")
		}
	}

	var existing models.VendorApplication
	err = h.DB.Where("user_id = ? AND status = ?", userID, models.ApplicationPending).First(&existing).Error
	if err == nil {
		return echo.NewHTTPError(http.StatusConflict, "application already pending")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	app := models.VendorApplication{
		UserID:              userID,
		BusinessName:        req.BusinessName,
		BusinessCategory:    req.BusinessCategory,
		ContactPhone:        req.ContactPhone,
		BusinessAddress:     req.BusinessAddress,
		BusinessDescription: req.BusinessDescription,
		Email:               req.Email,
		Status:              models.ApplicationPending,
	}
	if err := h.DB.Create(&app).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, userID, map[string]any{
		"type":          "vendor_application_submitted",
		"userID":        userID,
		"applicationID": app.ID,
	})

	return c.JSON(http.StatusCreated, app)
}

func (h *VendorHandler) ListApplications(c echo.Context) error {
	q := h.DB.Order("id DESC")
	if s := c.QueryParam("status"); s != "" {
		q = q.Where("status = ?", s)
	}

	var apps []models.VendorApplication
	if err := q.Find(&apps).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, apps)
}

// Decide resolves a pending application exactly once. Approval also
// promotes the applicant's role for future logins.
func (h *VendorHandler) Decide(c echo.Context) error {
	var req struct {
		Status          string `json:"status"`
		RejectionReason string `json:"rejection_reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status != models.ApplicationApproved && req.Status != models.ApplicationRejected {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be approved or rejected")
	}
	if req.Status == models.ApplicationRejected && req.RejectionReason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rejection_reason is required")
	}

	var app models.VendorApplication
	if err := h.DB.First(&app, c.Param("id")).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "application not found")
	}
	if app.Status != models.ApplicationPending {
		return echo.NewHTTPError(http.StatusConflict, "application already decided")
	}

	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": req.Status}
		if req.Status == models.ApplicationRejected {
			updates["rejection_reason"] = req.RejectionReason
		}
		if err := tx.Model(&app).Updates(updates).Error; err != nil {
			return err
		}
		if req.Status == models.ApplicationApproved {
			return tx.Model(&models.User{}).
				Where("id = ?", app.UserID).
				Update("role", "vendor").Error
		}
		return nil
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	app.Status = req.Status
	app.RejectionReason = req.RejectionReason
	h.notifyApplicant(&app)
	h.publish(c, app.UserID, map[string]any{
		"type":          "vendor_application_decided",
		"userID":        app.UserID,
		"applicationID": app.ID,
		"status":        app.Status,
	})

	return c.JSON(http.StatusOK, app)
}

func (h *VendorHandler) notifyApplicant(app *models.VendorApplication) {
	// Business name and rejection reason are applicant/admin input and
	// must not reach the HTML body unescaped.
	name := template.HTMLEscapeString(app.BusinessName)
	var msg notify.Message
	if app.Status == models.ApplicationApproved {
		msg = notify.Message{
			To:      app.Email,
			Subject: "Your vendor application was approved",
			HTML: fmt.Sprintf("<p>Congratulations! <strong>%s</strong> has been approved. Log in again to start listing products.</p>",
				name),
			Text: fmt.Sprintf("Your vendor application for %s was approved.", app.BusinessName),
		}
	} else {
		msg = notify.Message{
			To:      app.Email,
			Subject: "Your vendor application was not approved",
			HTML: fmt.Sprintf("<p>Unfortunately your application for <strong>%s</strong> was not approved.</p><p>Reason: %s</p>",
				name, template.HTMLEscapeString(app.RejectionReason)),
			Text: fmt.Sprintf("Your vendor application for %s was rejected: %s", app.BusinessName, app.RejectionReason),
		}
	}
	h.Dispatcher.Enqueue(msg)
}
