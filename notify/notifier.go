// Package notify is the opaque delivery boundary for user-facing messages.
// The security core only depends on the Notifier contract; delivery
// mechanics stay out of scope.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"

	"github.com/rs/zerolog/log"
)

// Notifier dispatches a message to a recipient. Implementations must return
// promptly; callers bound every dispatch with a timeout.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// SMTPNotifier sends mail through a plain SMTP relay.
type SMTPNotifier struct {
	host    string
	port    string
	account string
	pass    string
}

func NewSMTPNotifier(host, port, account, pass string) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, account: account, pass: pass}
}

// Notify runs a full SMTP session bounded by the context: the dial honors
// ctx directly and every subsequent read/write inherits its deadline, so a
// stalled relay cannot hang the caller past the deadline.
func (n *SMTPNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.account, recipient, subject, body)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", n.host+":"+n.port)
	if err != nil {
		return fmt.Errorf("notify.SMTPNotifier dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("notify.SMTPNotifier deadline: %w", err)
		}
	}

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("notify.SMTPNotifier greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.host}); err != nil {
			return fmt.Errorf("notify.SMTPNotifier starttls: %w", err)
		}
	}
	if ok, _ := client.Extension("AUTH"); ok && n.pass != "" {
		auth := smtp.PlainAuth("", n.account, n.pass, n.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("notify.SMTPNotifier auth: %w", err)
		}
	}

	if err := client.Mail(n.account); err != nil {
		return fmt.Errorf("notify.SMTPNotifier mail: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("notify.SMTPNotifier rcpt: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify.SMTPNotifier data: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("notify.SMTPNotifier write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("notify.SMTPNotifier close: %w", err)
	}
	return client.Quit()
}

// LogNotifier writes the message to the structured log instead of sending
// it. Default for local development.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, recipient, subject, body string) error {
	log.Info().
		Str("recipient", recipient).
		Str("subject", subject).
		Str("body", body).
		Msg("notification dispatched")
	return nil
}
