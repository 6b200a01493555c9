package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"
	"os"
	"strings"
)

// EmailService sends payment receipts via SMTP
type EmailService struct {
	host     string
	port     int
	username string
	password string
	from     string
	appName  string
}

// NewEmailService creates a new email service instance
func NewEmailService() *EmailService {
	port := 587
	if p := os.Getenv("SMTP_PORT"); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}

	return &EmailService{
		host:     getEnvOrDefault("SMTP_HOST", "smtp.gmail.com"),
		port:     port,
		username: os.Getenv("SMTP_USERNAME"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     getEnvOrDefault("SMTP_FROM", "payments@learnhub.app"),
		appName:  getEnvOrDefault("APP_NAME", "LearnHub"),
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// IsConfigured checks if SMTP is properly configured
func (e *EmailService) IsConfigured() bool {
	return e.username != "" && e.password != ""
}

// SendReceipt emails a payment receipt to the user
func (e *EmailService) SendReceipt(ctx context.Context, to string, receipt *ReceiptData) error {
	if !e.IsConfigured() {
		log.Printf("SMTP not configured. Receipt for %s (%s) not sent", to, receipt.Reference)
		return fmt.Errorf("SMTP not configured")
	}

	subject := fmt.Sprintf("Payment Receipt %s - %s", receipt.Reference, e.appName)
	body := e.buildReceiptBody(receipt)

	done := make(chan error, 1)
	go func() {
		done <- e.sendEmail(to, subject, body)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *EmailService) buildReceiptBody(receipt *ReceiptData) string {
	name := receipt.UserName
	if name == "" {
		name = "Student"
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Payment Receipt</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #2d5016;">%s — Payment Receipt</h2>
  <p>Hi %s,</p>
  <p>Thank you for your payment. Here are the details:</p>
  <table style="width: 100%%; border-collapse: collapse;">
    <tr><td style="padding: 6px 0; color: #666;">Reference</td><td>%s</td></tr>
    <tr><td style="padding: 6px 0; color: #666;">Course</td><td>%s</td></tr>
    <tr><td style="padding: 6px 0; color: #666;">Amount</td><td>%s %s</td></tr>
    <tr><td style="padding: 6px 0; color: #666;">Payment method</td><td>%s</td></tr>
    <tr><td style="padding: 6px 0; color: #666;">Status</td><td>%s</td></tr>
    <tr><td style="padding: 6px 0; color: #666;">Date</td><td>%s</td></tr>
  </table>
  <p style="margin-top: 24px; color: #999; font-size: 12px;">Keep this receipt for your records.</p>
</body>
</html>`,
		e.appName,
		name,
		receipt.Reference,
		receipt.CourseTitle,
		receipt.Amount.StringFixed(2), receipt.Currency,
		receipt.PaymentMethod,
		receipt.Status,
		receipt.PaidAt.Format("2 January 2006 15:04"),
	)
}

// sendEmail sends an HTML email via SMTP with STARTTLS
func (e *EmailService) sendEmail(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	headers := []string{
		fmt.Sprintf("From: %s", e.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: e.host}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	auth := smtp.PlainAuth("", e.username, e.password, e.host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth failed: %w", err)
	}

	if err := client.Mail(e.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	return client.Quit()
}
