package notify

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/imboss96/storefront/internal/models"
)

// subjectLine maps each order event to a fixed subject and lead
// paragraph. Keys are order statuses plus the synthetic "confirmed"
// event used right after checkout.
type subjectLine struct {
	Subject string
	Intro   string
}

const EventOrderConfirmed = "confirmed"

var subjects = map[string]subjectLine{
	EventOrderConfirmed: {
		Subject: "Order #%d confirmed",
		Intro:   "Thank you for your order! We have received it and will begin processing shortly.",
	},
	string(models.StatusPending): {
		Subject: "Order #%d received",
		Intro:   "Your payment was received and your order is now queued for processing.",
	},
	string(models.StatusProcessing): {
		Subject: "Order #%d is being processed",
		Intro:   "Good news - your order is being prepared for dispatch.",
	},
	string(models.StatusShipped): {
		Subject: "Order #%d has shipped",
		Intro:   "Your order is on its way to you.",
	},
	string(models.StatusCompleted): {
		Subject: "Order #%d delivered",
		Intro:   "Your order has been delivered. We hope you enjoy it!",
	},
	string(models.StatusCancelled): {
		Subject: "Order #%d cancelled",
		Intro:   "Your order has been cancelled. If you did not request this, please contact support.",
	},
	string(models.StatusReturned): {
		Subject: "Order #%d returned",
		Intro:   "We have registered the return of your order.",
	},
}

var orderTmpl = template.Must(template.New("order").Parse(`<html>
<body style="font-family:Arial,sans-serif;color:#222">
<h2>{{.StoreName}}</h2>
<p>Hi {{.Order.FullName}},</p>
<p>{{.Intro}}</p>
<table width="100%" cellpadding="6" style="border-collapse:collapse">
<tr style="text-align:left;border-bottom:1px solid #ddd"><th>Item</th><th>Qty</th><th>Price</th></tr>
{{range .Order.Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>KES {{printf "%.2f" .Price}}</td></tr>
{{end}}</table>
<p>Subtotal: KES {{printf "%.2f" .Order.Subtotal}}<br>
Shipping: KES {{printf "%.2f" .Order.ShippingFee}}<br>
<strong>Total: KES {{printf "%.2f" .Order.Total}}</strong></p>
<p>Order reference: {{.Order.Reference}}</p>
</body>
</html>`))

// RenderOrderEmail builds the email for one order event. Unknown events
// fall back to a neutral status-update subject.
func RenderOrderEmail(storeName string, order *models.Order, event string) (Message, error) {
	line, ok := subjects[event]
	if !ok {
		line = subjectLine{
			Subject: "Order #%d update",
			Intro:   fmt.Sprintf("Your order status changed to %s.", event),
		}
	}

	var html strings.Builder
	err := orderTmpl.Execute(&html, map[string]any{
		"StoreName": storeName,
		"Order":     order,
		"Intro":     line.Intro,
	})
	if err != nil {
		return Message{}, fmt.Errorf("notify: render order email: %w", err)
	}

	return Message{
		To:      order.Email,
		Subject: fmt.Sprintf(line.Subject, order.ID),
		HTML:    html.String(),
		Text:    fmt.Sprintf("%s Total: KES %.2f (order %s)", line.Intro, order.Total, order.Reference),
	}, nil
}
