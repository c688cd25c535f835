package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// ErrNotConfigured is returned when the SMTP host or sender address is missing.
var ErrNotConfigured = errors.New("mail: smtp not configured")

const implicitTLSPort = 465

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

// SMTPSender sends cleanup codes over SMTP. Port 465 uses implicit TLS; other ports upgrade with
// STARTTLS when the server offers it. Authentication is skipped when User is empty.
type SMTPSender struct {
	cfg  SMTPConfig
	nowF func() time.Time
}

// NewSMTPSender returns a Sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, nowF: time.Now}
}

// SendCleanupCode sends the code to the given address.
func (s *SMTPSender) SendCleanupCode(ctx context.Context, to, code string, ttl time.Duration) error {
	if s.cfg.Host == "" {
		return ErrNotConfigured
	}
	fromAddr := s.cfg.From
	if fromAddr == "" {
		fromAddr = s.cfg.User
	}
	if fromAddr == "" {
		return ErrNotConfigured
	}
	fromHeader := fromAddr
	if s.cfg.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", s.cfg.FromName, fromAddr)
	}
	boundary := fmt.Sprintf("orphan-recovery-%d", s.nowF().UnixNano())
	msg := buildMessage(fromHeader, fromAddr, to, cleanupSubject, cleanupText(code, ttl), cleanupHTML(code, ttl), boundary)
	if err := s.send(ctx, fromAddr, to, msg); err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	return nil
}

func (s *SMTPSender) send(ctx context.Context, from, to, msg string) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.cfg.Port == implicitTLSPort {
		conn = tls.Client(conn, &tls.Config{ServerName: s.cfg.Host})
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.cfg.Port != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return err
			}
		}
	}
	if s.cfg.User != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}
