package client

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"petshop-checkout/internal/config"
	"strconv"
)

//go:embed templates/*.html
var templateFS embed.FS

var refundTemplate = template.Must(template.ParseFS(templateFS, "templates/refund_invoice.html"))

type RefundEmailItem struct {
	Name      string
	Quantity  int
	UnitPrice string
}

type RefundEmail struct {
	InvoiceNumber  string
	RefundID       string
	Currency       string
	Amount         string
	RefundedToDate string
	Reason         string
	Items          []RefundEmailItem
}

type Mailer interface {
	SendRefundEmail(ctx context.Context, to string, data RefundEmail) error
}

type smtpMailer struct {
	addr string
	auth smtp.Auth
	from string
}

func NewMailer(cfg *config.SMTP) Mailer {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}

	return &smtpMailer{
		addr: cfg.Host + ":" + strconv.Itoa(cfg.Port),
		auth: auth,
		from: cfg.From,
	}
}

func (m *smtpMailer) SendRefundEmail(ctx context.Context, to string, data RefundEmail) error {
	if to == "" {
		return fmt.Errorf("refund email: no recipient")
	}

	message, err := renderRefundEmail(m.from, to, data)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func renderRefundEmail(from, to string, data RefundEmail) ([]byte, error) {
	var body bytes.Buffer
	if err := refundTemplate.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("template execution error: %w", err)
	}

	message := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Refund for %s\r\nMIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n\r\n%s",
		from,
		to,
		data.InvoiceNumber,
		body.String(),
	)

	return []byte(message), nil
}
