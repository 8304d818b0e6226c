package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StoreMetrics struct {
	OrdersCreated      *prometheus.CounterVec
	PaymentInitiations *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
	EmailsDelivered    *prometheus.CounterVec
}

func NewStoreMetrics() *StoreMetrics {
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "orders_created_total",
		Help:      "Orders persisted at checkout.",
	}, []string{"payment_method"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "payment_initiations_total",
		Help:      "STK push initiation attempts.",
	}, []string{"result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "order_status_transitions_total",
		Help:      "Applied order status transitions.",
	}, []string{"to"})
	emails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "order_emails_total",
		Help:      "Order email delivery outcomes.",
	}, []string{"result"})

	prometheus.MustRegister(orders, payments, transitions, emails)
	return &StoreMetrics{
		OrdersCreated:      orders,
		PaymentInitiations: payments,
		StatusTransitions:  transitions,
		EmailsDelivered:    emails,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
