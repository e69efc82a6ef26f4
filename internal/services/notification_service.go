package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/oakmart/api/internal/payments"
)

const orderMailHTMLTemplate = `<html>
<body>
<p>Hello,</p>
<p>{{.Intro}}</p>
<table>
{{range .Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}} &times; {{.UnitPrice}}</td><td>{{.LineTotal}}</td></tr>
{{end}}</table>
<p><strong>Total: {{.Total}}</strong></p>
{{if .Shipping}}<p>Shipping to: {{.Shipping}}</p>{{end}}
{{if .Detail}}<p>{{.Detail}}</p>{{end}}
<p>Order reference: {{.OrderID}}</p>
</body>
</html>`

const orderMailTextTemplate = `Hello,

{{.Intro}}

{{range .Items}}- {{.Name}}: {{.Quantity}} x {{.UnitPrice}} = {{.LineTotal}}
{{end}}
Total: {{.Total}}
{{if .Shipping}}Shipping to: {{.Shipping}}
{{end}}{{if .Detail}}{{.Detail}}
{{end}}
Order reference: {{.OrderID}}
`

// NotificationServiceDeps bundles collaborators for the notification dispatcher.
type NotificationServiceDeps struct {
	Mail        MailTransport
	FromAddress string
	ReplyTo     string
	BCC         []string
	// DisableSends renders messages but skips the transport. Used for local
	// development and tests against production data.
	DisableSends bool
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	mail     MailTransport
	from     string
	replyTo  string
	bcc      []string
	disabled bool
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)

	htmlTmpl  *htmltemplate.Template
	textTmpl  *texttemplate.Template
	sanitizer *bluemonday.Policy
	printer   *message.Printer
}

// NewNotificationService constructs the email dispatcher for order lifecycle notifications.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Mail == nil && !deps.DisableSends {
		return nil, errors.New("notification service: mail transport is required")
	}

	htmlTmpl, err := htmltemplate.New("order_mail_html").Parse(orderMailHTMLTemplate)
	if err != nil {
		return nil, fmt.Errorf("notification service: parse html template: %w", err)
	}
	textTmpl, err := texttemplate.New("order_mail_text").Parse(orderMailTextTemplate)
	if err != nil {
		return nil, fmt.Errorf("notification service: parse text template: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		mail:     deps.Mail,
		from:     strings.TrimSpace(deps.FromAddress),
		replyTo:  strings.TrimSpace(deps.ReplyTo),
		bcc:      deps.BCC,
		disabled: deps.DisableSends,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		htmlTmpl:  htmlTmpl,
		textTmpl:  textTmpl,
		sanitizer: bluemonday.StrictPolicy(),
		printer:   message.NewPrinter(language.English),
	}, nil
}

type orderMailView struct {
	OrderID  string
	Intro    string
	Detail   string
	Total    string
	Shipping string
	Items    []orderMailItemView
}

type orderMailItemView struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

func (s *notificationService) OrderPlaced(ctx context.Context, order Order) NotificationResult {
	view := s.orderView(order)
	view.Intro = fmt.Sprintf("Thanks for your order. We have received it and reserved your items (order %s).", order.ID)
	subject := fmt.Sprintf("Order %s received", order.ID)
	return s.dispatch(ctx, order, subject, view)
}

func (s *notificationService) OrderCanceled(ctx context.Context, order Order) NotificationResult {
	view := s.orderView(order)
	view.Intro = fmt.Sprintf("Your order %s has been canceled and the reserved items released.", order.ID)
	if order.CancelReason != nil && strings.TrimSpace(*order.CancelReason) != "" {
		view.Detail = "Reason: " + s.sanitize(*order.CancelReason)
	}
	subject := fmt.Sprintf("Order %s canceled", order.ID)
	return s.dispatch(ctx, order, subject, view)
}

func (s *notificationService) PaymentConfirmed(ctx context.Context, order Order, confirmation payments.Confirmation) NotificationResult {
	view := s.orderView(order)
	view.Intro = fmt.Sprintf("We received your payment for order %s.", order.ID)
	detail := fmt.Sprintf("Paid %s %.2f via %s.", strings.ToUpper(confirmation.Currency), confirmation.Amount, confirmation.Method)
	if confirmation.TransactionID != "" {
		detail += " Transaction " + s.sanitize(confirmation.TransactionID) + "."
	}
	view.Detail = detail
	subject := fmt.Sprintf("Payment received for order %s", order.ID)
	return s.dispatch(ctx, order, subject, view)
}

func (s *notificationService) dispatch(ctx context.Context, order Order, subject string, view orderMailView) NotificationResult {
	now := s.clock()

	if strings.TrimSpace(order.Email) == "" {
		return NotificationResult{Message: "order has no customer email", SentAt: now}
	}

	var htmlBody bytes.Buffer
	if err := s.htmlTmpl.Execute(&htmlBody, view); err != nil {
		return NotificationResult{Message: "render html body: " + err.Error(), SentAt: now}
	}
	var textBody bytes.Buffer
	if err := s.textTmpl.Execute(&textBody, view); err != nil {
		return NotificationResult{Message: "render text body: " + err.Error(), SentAt: now}
	}

	if s.disabled {
		s.logger(ctx, "notification.skipped", map[string]any{
			"order_id": order.ID,
			"subject":  subject,
		})
		return NotificationResult{Succeeded: true, Message: "sends disabled", SentAt: now}
	}

	msg := MailMessage{
		To:       []string{order.Email},
		BCC:      s.bcc,
		ReplyTo:  s.replyTo,
		Subject:  subject,
		HTMLBody: htmlBody.String(),
		TextBody: textBody.String(),
	}

	if err := s.mail.Send(ctx, msg); err != nil {
		s.logger(ctx, "notification.send_failed", map[string]any{
			"order_id": order.ID,
			"subject":  subject,
			"error":    err.Error(),
		})
		return NotificationResult{Message: err.Error(), SentAt: now}
	}

	return NotificationResult{Succeeded: true, SentAt: now}
}

func (s *notificationService) orderView(order Order) orderMailView {
	items := make([]orderMailItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderMailItemView{
			Name:      s.sanitize(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: s.formatAmount(item.UnitPriceAtPurchase, order.Currency),
			LineTotal: s.formatAmount(item.LineTotal, order.Currency),
		})
	}

	return orderMailView{
		OrderID:  order.ID,
		Total:    s.formatAmount(order.TotalAmount, order.Currency),
		Shipping: s.shippingLine(order.Shipping),
		Items:    items,
	}
}

// shippingLine joins the customer-supplied shipping fields after stripping any
// markup they carry.
func (s *notificationService) shippingLine(shipping ShippingDetails) string {
	parts := make([]string, 0, 3)
	for _, field := range []string{shipping.City, shipping.Zip, shipping.Country} {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			parts = append(parts, s.sanitize(trimmed))
		}
	}
	return strings.Join(parts, ", ")
}

func (s *notificationService) sanitize(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func (s *notificationService) formatAmount(amount int64, currencyCode string) string {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return payments.FormatMajorUnits(amount, currencyCode) + " " + strings.ToUpper(currencyCode)
	}
	return s.printer.Sprint(currency.Symbol(unit.Amount(payments.MajorUnits(amount, currencyCode))))
}
