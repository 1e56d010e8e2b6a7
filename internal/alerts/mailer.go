package alerts

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig is the outbound mail server.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// MailConfig selects and configures the mail provider.
type MailConfig struct {
	// Provider is "smtp" or "plunk".
	Provider string      `mapstructure:"provider"`
	ReplyTo  string      `mapstructure:"reply_to"`
	SMTP     SMTPConfig  `mapstructure:"smtp"`
	Plunk    PlunkConfig `mapstructure:"plunk"`
}

// Mailer sends plain text or HTML email through SMTP or Plunk.
type Mailer struct {
	cfg  MailConfig
	http *http.Client
}

// NewMailer validates cfg for the chosen provider.
func NewMailer(cfg MailConfig) (*Mailer, error) {
	switch cfg.Provider {
	case "plunk":
		if cfg.Plunk.APIKey == "" {
			return nil, errors.New("plunk not configured: set mail.plunk.api_key")
		}
		if cfg.Plunk.APIURL == "" {
			cfg.Plunk.APIURL = "https://api.useplunk.com/v1/send"
		}
	case "smtp", "":
		cfg.Provider = "smtp"
		s := cfg.SMTP
		if s.Host == "" || s.Port == "" || s.Username == "" || s.Password == "" || s.From == "" {
			return nil, errors.New("smtp not configured: set mail.smtp.host, port, username, password and from")
		}
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
	return &Mailer{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// Send delivers one message.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.cfg.Provider == "plunk" {
		return m.sendViaPlunk(ctx, to, subject, body)
	}
	return m.sendViaSMTP(ctx, to, subject, body)
}

func contentType(body string) string {
	lb := strings.ToLower(body)
	if strings.Contains(lb, "<html") || strings.Contains(lb, "<body") || strings.Contains(lb, "<!doctype html") {
		return "text/html"
	}
	return "text/plain"
}

func (m *Mailer) message(to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.SMTP.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if m.cfg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", m.cfg.ReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType(body))
	b.WriteString("\r\n" + body + "\r\n")
	return b.String()
}

func (m *Mailer) sendViaSMTP(ctx context.Context, to, subject, body string) error {
	s := m.cfg.SMTP
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}, Config: &tls.Config{ServerName: s.Host}}
	conn, err := dialer.DialContext(ctx, "tcp", s.Host+":"+s.Port)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(s.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write([]byte(m.message(to, subject, body))); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return c.Quit()
}
