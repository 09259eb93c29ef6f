package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// SMTPRelay sends through an SMTP submission server using STARTTLS and
// PLAIN auth, the way the SMTP2Go SMTP endpoint expects.
type SMTPRelay struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration

	// dial is a seam for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
	// tlsConfig overrides the STARTTLS config (tests use self-signed certs).
	tlsConfig *tls.Config
}

// NewSMTPRelay returns an SMTPRelay for host:port.
func NewSMTPRelay(host string, port int, username, password string, timeout time.Duration) *SMTPRelay {
	return &SMTPRelay{Host: host, Port: port, Username: username, Password: password, Timeout: timeout}
}

// Send delivers msg. SMTP 4xx replies and connection failures are transient;
// 5xx replies are permanent.
func (r *SMTPRelay) Send(ctx context.Context, msg Message) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	addr := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))

	dial := r.dial
	if dial == nil {
		var d net.Dialer
		dial = func(ctx context.Context, addr string) (net.Conn, error) { return d.DialContext(ctx, "tcp", addr) }
	}
	conn, err := dial(ctx, addr)
	if err != nil {
		return "", Transient(0, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, r.Host)
	if err != nil {
		_ = conn.Close()
		return "", classifySMTP(err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		cfg := r.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: r.Host, MinVersion: tls.VersionTLS12}
		}
		if err := c.StartTLS(cfg); err != nil {
			return "", classifySMTP(err)
		}
	}
	if r.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", r.Username, r.Password, r.Host)); err != nil {
			return "", classifySMTP(err)
		}
	}
	if err := c.Mail(msg.From); err != nil {
		return "", classifySMTP(err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return "", classifySMTP(err)
	}
	w, err := c.Data()
	if err != nil {
		return "", classifySMTP(err)
	}
	if _, err := w.Write(buildMIME(msg, time.Now())); err != nil {
		return "", Transient(0, err)
	}
	if err := w.Close(); err != nil {
		return "", classifySMTP(err)
	}
	_ = c.Quit()
	return "smtp:" + r.Host, nil
}

func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return Permanent(tpErr.Code, err)
		}
		return Transient(tpErr.Code, err)
	}
	return Transient(0, err)
}

// buildMIME renders a minimal RFC 5322 plain-text message.
func buildMIME(msg Message, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
