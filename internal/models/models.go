package models

import (
	"time"
)

type Product struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"  json:"id"`
	Name          string    `gorm:"not null"                  json:"name"`
	Description   string    `gorm:"not null"                  json:"description"`
	Price         float64   `gorm:"not null"                  json:"price"`
	OriginalPrice float64   `json:"original_price"`
	Stock         uint      `json:"stock"`
	Category      string    `gorm:"index"                     json:"category"`
	Images        ImageList `gorm:"type:text"                 json:"images"`
	Rating        float64   `json:"rating"`
	ReviewCount   uint      `json:"review_count"`
	Featured      bool      `gorm:"index"                     json:"featured"`
	CreatedAt     time.Time `json:"created_at"`
}

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	Email        string `gorm:"unique;not null"          json:"email"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null;default:user"    json:"role"`
}

type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"          json:"id"`
	Token     string `gorm:"unique;not null"     json:"token"`
	UserID    uint   `gorm:"index;not null"      json:"user_id"`
	Role      string `gorm:"not null"            json:"role"`
	ExpiresAt int64  `gorm:"not null"            json:"expires_at"`
	Revoked   bool   `gorm:"default:false"       json:"revoked"`
}

type CartItem struct {
	ID        uint `gorm:"primaryKey"                  json:"id"`
	UserID    uint `gorm:"index;not null"              json:"user_id"`
	ProductID uint `gorm:"not null"                    json:"product_id"`
	Quantity  uint `gorm:"default:1;check:quantity>0"  json:"quantity"`
}

// Order is created once at checkout; only Status, PaymentStatus and
// CheckoutRequestID change afterwards. Items and shipping fields are
// snapshots, not references into the live catalog.
type Order struct {
	ID                uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference         string      `gorm:"unique;not null"          json:"reference"`
	UserID            uint        `gorm:"index;not null"           json:"user_id"`
	Items             []OrderItem `gorm:"foreignKey:OrderID"       json:"items"`
	FullName          string      `gorm:"not null"                 json:"full_name"`
	Email             string      `gorm:"not null"                 json:"email"`
	Phone             string      `gorm:"not null"                 json:"phone"`
	Address           string      `gorm:"not null"                 json:"address"`
	City              string      `gorm:"not null"                 json:"city"`
	County            string      `gorm:"not null"                 json:"county"`
	PostalCode        string      `json:"postal_code"`
	PaymentMethod     string      `gorm:"not null"                 json:"payment_method"`
	Subtotal          float64     `gorm:"not null"                 json:"subtotal"`
	ShippingFee       float64     `json:"shipping_fee"`
	Total             float64     `gorm:"not null"                 json:"total"`
	Status            OrderStatus `gorm:"type:varchar(20);not null"                 json:"status"`
	PaymentStatus     string      `gorm:"type:varchar(20);not null;default:pending" json:"payment_status"`
	CheckoutRequestID string      `gorm:"index"                    json:"checkout_request_id,omitempty"`
	Version           uint        `gorm:"not null;default:0"       json:"version"`
	CreatedAt         time.Time   `json:"created_at"`
}

type OrderItem struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	OrderID   uint    `gorm:"index"      json:"order_id"`
	ProductID uint    `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  uint    `json:"quantity"`
}

const (
	PaymentMethodMobileMoney    = "mobile-money"
	PaymentMethodCard           = "card"
	PaymentMethodCashOnDelivery = "cash-on-delivery"

	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodMobileMoney, PaymentMethodCard, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

type VendorApplication struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              uint      `gorm:"index;not null"           json:"user_id"`
	BusinessName        string    `gorm:"not null"                 json:"business_name"`
	BusinessCategory    string    `gorm:"not null"                 json:"business_category"`
	ContactPhone        string    `gorm:"not null"                 json:"contact_phone"`
	BusinessAddress     string    `gorm:"not null"                 json:"business_address"`
	BusinessDescription string    `json:"business_description"`
	Email               string    `gorm:"not null"                 json:"email"`
	Status              string    `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	RejectionReason     string    `json:"rejection_reason,omitempty"`
	SubmittedAt         time.Time `gorm:"autoCreateTime"           json:"submitted_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"           json:"updated_at"`
}

const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)
