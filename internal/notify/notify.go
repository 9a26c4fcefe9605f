// Package notify mails a report when attachments of a message could not
// be printed.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/model"
)

// dialTimeout bounds connection setup when ctx has no earlier deadline.
const dialTimeout = 30 * time.Second

// Dropped is one attachment that did not reach the printer.
type Dropped struct {
	Filename string
	Reason   string
}

// Failure describes the dropped attachments of one message.
type Failure struct {
	MessageID string
	Subject   string
	Sender    string
	Dropped   []Dropped
}

// Reporter sends failure reports. *Notifier satisfies it.
type Reporter interface {
	Report(ctx context.Context, f Failure) error
}

// Notifier delivers failure reports over SMTP.
type Notifier struct {
	cfg model.NotifyConfig
	now func() time.Time
	log *zap.Logger
}

// New creates a Notifier, or returns nil when cfg has no SMTP host.
func New(cfg model.NotifyConfig, log *zap.Logger) *Notifier {
	if !cfg.Enabled() {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{cfg: cfg, now: time.Now, log: log.Named("notify")}
}

// Report sends one message listing f's dropped attachments. A nil
// Notifier or an empty Failure sends nothing.
func (n *Notifier) Report(ctx context.Context, f Failure) error {
	if n == nil || len(f.Dropped) == 0 {
		return nil
	}

	to := n.recipients(f)
	if len(to) == 0 {
		n.log.Debug("no recipients for failure report", zap.String("message_id", f.MessageID))
		return nil
	}

	body, err := n.compose(f, to)
	if err != nil {
		return fmt.Errorf("composing failure report: %w", err)
	}

	c, err := n.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if n.cfg.Username != "" {
		auth := sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	if err := c.SendMail(n.cfg.From, to, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("sending failure report: %w", err)
	}
	if err := c.Quit(); err != nil {
		n.log.Debug("SMTP quit", zap.Error(err))
	}

	n.log.Info("sent failure report",
		zap.String("message_id", f.MessageID),
		zap.Strings("to", to),
		zap.Int("dropped", len(f.Dropped)),
	)
	return nil
}

func (n *Notifier) recipients(f Failure) []string {
	to := append([]string(nil), n.cfg.To...)
	if n.cfg.NotifySender && f.Sender != "" {
		for _, addr := range to {
			if strings.EqualFold(addr, f.Sender) {
				return to
			}
		}
		to = append(to, f.Sender)
	}
	return to
}

func (n *Notifier) compose(f Failure, to []string) ([]byte, error) {
	var h mail.Header
	h.SetDate(n.now())
	h.SetAddressList("From", []*mail.Address{{Address: n.cfg.From}})

	rcpts := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		rcpts = append(rcpts, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", rcpts)

	subject := "Printing failed"
	if f.Subject != "" {
		subject += ": " + f.Subject
	}
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, reportText(f)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func reportText(f Failure) string {
	var b strings.Builder

	b.WriteString("The following attachments could not be printed")
	if f.Subject != "" {
		fmt.Fprintf(&b, " from the message %q", f.Subject)
	}
	if f.Sender != "" {
		fmt.Fprintf(&b, " sent by %s", f.Sender)
	}
	b.WriteString(":\n\n")

	for _, d := range f.Dropped {
		fmt.Fprintf(&b, "  - %s: %s\n", d.Filename, d.Reason)
	}

	b.WriteString("\nThe message has been marked as read and will not be retried.\n")
	if f.MessageID != "" {
		fmt.Fprintf(&b, "Mailbox reference: %s\n", f.MessageID)
	}
	return b.String()
}

func (n *Notifier) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(n.cfg.SMTPHost, strconv.Itoa(n.cfg.SMTPPort))
	tlsConfig := &tls.Config{ServerName: n.cfg.SMTPHost}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if n.cfg.TLS {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing SMTP server %s: %w", addr, err)
	}

	if n.cfg.TLS || !n.cfg.StartTLS {
		return smtp.NewClient(conn), nil
	}
	c, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("SMTP STARTTLS with %s: %w", addr, err)
	}
	return c, nil
}
