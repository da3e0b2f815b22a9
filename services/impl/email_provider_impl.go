package impl

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/config"
	"github.com/mindspring-backend/services"
)

const smtpDialTimeout = 10 * time.Second

// smtpEmailProvider delivers mail over SMTP. Port 465 is treated as
// implicit TLS; any other port connects in plaintext and upgrades with
// STARTTLS when the server offers it.
type smtpEmailProvider struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPEmailProvider(cfg config.SMTPConfig) services.EmailProvider {
	return &smtpEmailProvider{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.EmailFrom,
	}
}

func (p *smtpEmailProvider) Send(ctx context.Context, to, subject, body string) error {
	client, err := p.connect(ctx)
	if err != nil {
		return apperrors.NewExternalService("email", "Failed to connect to mail server").WithCause(err)
	}
	defer client.Close()

	if err := p.deliver(client, to, subject, body); err != nil {
		return apperrors.NewExternalService("email", "Failed to send email").WithCause(err)
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	return client.Quit()
}

func (p *smtpEmailProvider) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))
	dialer := &net.Dialer{Timeout: smtpDialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if p.port == 465 {
		conn = tls.Client(conn, &tls.Config{ServerName: p.host})
	}

	client, err := smtp.NewClient(conn, p.host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if p.port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: p.host}); err != nil {
				client.Close()
				return nil, err
			}
		}
	}

	if p.username != "" {
		auth := smtp.PlainAuth("", p.username, p.password, p.host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}

func (p *smtpEmailProvider) deliver(client *smtp.Client, to, subject, body string) error {
	if err := client.Mail(p.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(p.message(to, subject, body)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (p *smtpEmailProvider) message(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", p.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// SentEmail is one message captured by the log provider.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// logEmailProvider records messages instead of delivering them. It stands in
// for SMTP in development and tests when no mail server is configured.
type logEmailProvider struct {
	mu   sync.Mutex
	sent []SentEmail
}

func NewLogEmailProvider() services.EmailProvider {
	return &logEmailProvider{}
}

func (p *logEmailProvider) Send(_ context.Context, to, subject, body string) error {
	p.mu.Lock()
	p.sent = append(p.sent, SentEmail{To: to, Subject: subject, Body: body})
	p.mu.Unlock()

	log.Info().Str("to", to).Str("subject", subject).Msg("email captured (no SMTP configured)")
	log.Debug().Str("body", body).Msg("email body")
	return nil
}

// Sent returns a copy of every captured message.
func (p *logEmailProvider) Sent() []SentEmail {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SentEmail, len(p.sent))
	copy(out, p.sent)
	return out
}
