package httpserver

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/imboss96/storefront/internal/handlers"
	"github.com/imboss96/storefront/internal/handlers/cart"
	"github.com/imboss96/storefront/internal/handlers/checkout"
	"github.com/imboss96/storefront/internal/handlers/order"
	"github.com/imboss96/storefront/internal/metrics"
	"github.com/imboss96/storefront/internal/service/token"
)

type Deps struct {
	DB              *gorm.DB
	AuthHandler     *handlers.AuthHandler
	ProductHandler  *handlers.ProductHandler
	SearchHandler   *handlers.SearchHandler
	VendorHandler   *handlers.VendorHandler
	CartHandler     *cart.CartHandler
	CheckoutHandler *checkout.CheckoutHandler
	OrderHandler    *order.OrderHandler
	TokenService    *token.TokenService
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.AuthHandler.Register)
	v1.POST("/login", d.AuthHandler.Login)
	v1.POST("/logout", d.AuthHandler.LogOut)
	v1.GET("/search", d.SearchHandler.Search)

	products := v1.Group("/products")
	products.GET("", d.ProductHandler.GetProducts)
	products.GET("/:id", d.ProductHandler.GetProduct)

	// Provider callback is unauthenticated; orders are matched by
	// CheckoutRequestID only.
	v1.POST("/payments/callback", d.CheckoutHandler.PaymentCallback)

	authed := v1.Group("", d.TokenService.AutoRefreshMiddleware)

	cartGroup := authed.Group("/cart")
	cartGroup.GET("", d.CartHandler.GetCart)
	cartGroup.POST("", d.CartHandler.AddToCart)
	cartGroup.PATCH("/:productID", d.CartHandler.ChangeQuantity)
	cartGroup.DELETE("/:productID", d.CartHandler.RemoveItem)
	cartGroup.DELETE("", d.CartHandler.Clear)

	authed.POST("/checkout", d.CheckoutHandler.PlaceOrder)
	authed.POST("/orders/:id/pay", d.CheckoutHandler.RetryPayment)
	authed.GET("/orders", d.OrderHandler.GetMyOrders)
	authed.GET("/orders/:id", d.OrderHandler.GetOrder)

	authed.POST("/vendor/apply", d.VendorHandler.Apply)

	staff := authed.Group("/admin", token.RequireRole("admin", "vendor"))
	staff.GET("/orders", d.OrderHandler.ListOrders)
	staff.PATCH("/orders/:id/status", d.OrderHandler.SetStatus)
	staff.POST("/products", d.ProductHandler.CreateProduct)
	staff.PATCH("/products/:id", d.ProductHandler.PatchProduct)
	staff.DELETE("/products/:id", d.ProductHandler.DeleteProduct)

	adminOnly := authed.Group("/admin", token.RequireRole("admin"))
	adminOnly.GET("/vendor/applications", d.VendorHandler.ListApplications)
	adminOnly.PATCH("/vendor/applications/:id", d.VendorHandler.Decide)
}
