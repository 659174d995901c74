package server

import (
	"context"
	"net/http"
	"petshop-checkout/internal/handler"
	appmw "petshop-checkout/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Handlers struct {
	Cart      *handler.CartHandler
	Paypal    *handler.PaypalHandler
	Stripe    *handler.StripeHandler
	Nets      *handler.NetsHandler
	Braintree *handler.BraintreeHandler
	Order     *handler.OrderHandler
	Refund    *handler.RefundHandler
}

type Server struct {
	echo      *echo.Echo
	handlers  Handlers
	jwtSecret string
}

func NewServer(handlers Handlers, jwtSecret string, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:      e,
		handlers:  handlers,
		jwtSecret: jwtSecret,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	h := s.handlers
	requireAuth := appmw.AuthMiddleware(s.jwtSecret)

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api.GET("/products", h.Cart.ListProducts)
	api.GET("/products/:id", h.Cart.GetProduct)

	// -------- cart --------
	cart := api.Group("/cart", requireAuth)
	cart.GET("", h.Cart.GetCart)
	cart.DELETE("", h.Cart.ClearCart)
	cart.POST("/items", h.Cart.AddItem)
	cart.PUT("/items/:productID", h.Cart.UpdateItem)
	cart.DELETE("/items/:productID", h.Cart.RemoveItem)

	// -------- checkout --------
	checkout := api.Group("/checkout")
	checkout.GET("/summary", h.Cart.Summary, requireAuth)

	checkout.POST("/paypal/orders", h.Paypal.CreateOrder, requireAuth)
	checkout.POST("/paypal/capture", h.Paypal.Capture, requireAuth)

	checkout.POST("/stripe/sessions", h.Stripe.CreateSession, requireAuth)
	checkout.GET("/stripe/success", h.Stripe.HandleSuccess)
	checkout.GET("/stripe/cancel", h.Stripe.HandleCancel)

	checkout.POST("/nets/qr", h.Nets.GenerateQR, requireAuth)
	checkout.GET("/nets/status/:ref", h.Nets.PaymentStatus, requireAuth)
	checkout.GET("/nets/success", h.Nets.HandleSuccess, requireAuth)
	checkout.GET("/nets/fail", h.Nets.HandleFail)

	checkout.POST("/braintree", h.Braintree.ProcessCheckout, requireAuth)

	// -------- provider callbacks / webhooks --------
	api.GET("/paypal/success", h.Paypal.HandleSuccess, requireAuth)
	api.POST("/paypal/webhook", h.Paypal.PayPalWebhook)
	api.POST("/stripe/webhook", h.Stripe.StripeWebhook)

	// -------- customer history --------
	api.GET("/orders", h.Order.ListOrders, requireAuth)
	api.GET("/orders/:id", h.Order.GetOrder, requireAuth)
	api.GET("/refunds", h.Refund.ListMyRefunds, requireAuth)

	// -------- admin --------
	admin := api.Group("/admin", requireAuth, appmw.RequireAdmin())
	admin.GET("/orders", h.Order.ListAllOrders)
	admin.GET("/orders/:id", h.Order.GetOrder)
	admin.PUT("/orders/:id/status", h.Order.UpdateStatus)
	admin.GET("/orders/:id/refund", h.Refund.Preview)
	admin.POST("/orders/:id/refunds", h.Refund.CreateRefund)
	admin.GET("/refunds", h.Refund.ListRefunds)
	admin.GET("/refunds/:id", h.Refund.GetRefund)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP exposes the router to httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
