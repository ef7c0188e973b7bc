package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/leadkit/automation/internal/action"
)

// SMTPConfig mirrors the SMTP integration settings of the surrounding
// product: host, port, credentials, and STARTTLS.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"starttls"`
}

// SMTPSender delivers messages over SMTP. Failure classification follows the
// protocol: 4yz replies are transient negative completions, 5yz replies are
// permanent, and connection-level errors are transient.
type SMTPSender struct {
	conf SMTPConfig
}

func NewSMTPSender(conf SMTPConfig) *SMTPSender {
	if conf.Port == 0 {
		conf.Port = 587
	}
	return &SMTPSender{conf: conf}
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if s.conf.Host == "" {
		return action.Permanentf("smtp: not configured")
	}

	addr := net.JoinHostPort(s.conf.Host, strconv.Itoa(s.conf.Port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return action.Transientf("smtp: dial %s: %v", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.conf.Host)
	if err != nil {
		conn.Close()
		return classifySMTP(fmt.Errorf("smtp: handshake: %w", err))
	}
	defer c.Close()

	if s.conf.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return action.Permanentf("smtp: server %s does not support STARTTLS", s.conf.Host)
		}
		if err := c.StartTLS(&tls.Config{ServerName: s.conf.Host}); err != nil {
			return classifySMTP(fmt.Errorf("smtp: starttls: %w", err))
		}
	}
	if s.conf.Username != "" {
		auth := smtp.PlainAuth("", s.conf.Username, s.conf.Password, s.conf.Host)
		if err := c.Auth(auth); err != nil {
			return classifySMTP(fmt.Errorf("smtp: auth: %w", err))
		}
	}

	if err := c.Mail(msg.From); err != nil {
		return classifySMTP(fmt.Errorf("smtp: mail from %s: %w", msg.From, err))
	}
	if err := c.Rcpt(msg.To); err != nil {
		return classifySMTP(fmt.Errorf("smtp: rcpt %s: %w", msg.To, err))
	}
	w, err := c.Data()
	if err != nil {
		return classifySMTP(fmt.Errorf("smtp: data: %w", err))
	}
	if _, err := w.Write(buildMessage(msg)); err != nil {
		w.Close()
		return action.Transientf("smtp: write body: %v", err)
	}
	if err := w.Close(); err != nil {
		return classifySMTP(fmt.Errorf("smtp: close data: %w", err))
	}
	// The server accepted the message at the end of DATA; a failed QUIT
	// does not undo delivery.
	if err := c.Quit(); err != nil {
		slog.Warn("smtp quit failed after delivery", "host", s.conf.Host, "err", err)
	}
	return nil
}

// classifySMTP maps SMTP reply codes onto the retry taxonomy. Errors without
// a protocol code (resets, timeouts) are transient.
func classifySMTP(err error) error {
	var perr *textproto.Error
	if errors.As(err, &perr) {
		if perr.Code >= 500 {
			return action.Permanent(err)
		}
		return action.Transient(err)
	}
	return action.Transient(err)
}

func buildMessage(msg *Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
