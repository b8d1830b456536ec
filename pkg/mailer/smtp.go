package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTP sends email through an SMTP relay with PLAIN auth.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates an SMTP sender.
func NewSMTP(host string, port int, username, password string) *SMTP {
	return &SMTP{
		host:     host,
		port:     port,
		username: username,
		password: password,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, msg Message) (Delivery, error) {
	if !strings.Contains(msg.To, "@") {
		return Delivery{}, fmt.Errorf("invalid email address: %s", msg.To)
	}
	if s.host == "" || s.port == 0 {
		return Delivery{}, fmt.Errorf("missing SMTP configuration: host or port is empty")
	}
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.host)
	raw, err := buildMIME(msg, messageID)
	if err != nil {
		return Delivery{}, err
	}
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	if err = s.sendMail(addr, auth, msg.From, []string{msg.To}, raw); err != nil {
		return Delivery{}, fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}

	return Delivery{
		Provider:   s.Name(),
		MessageID:  messageID,
		AcceptedAt: time.Now().UTC(),
	}, nil
}

// ErrHeaderInjection is returned when an address carries a line break.
var ErrHeaderInjection = errors.New("line break in email header")

// buildMIME renders a multipart/alternative message carrying both bodies.
// Addresses must be single-line, the subject is folded onto one line and
// RFC 2047 encoded, and bodies are quoted-printable.
func buildMIME(msg Message, messageID string) ([]byte, error) {
	for _, addr := range []string{msg.From, msg.To} {
		if strings.ContainsAny(addr, "\r\n") {
			return nil, fmt.Errorf("%w: %q", ErrHeaderInjection, addr)
		}
	}
	boundary := "aqialert-" + strings.ReplaceAll(uuid.New().String(), "-", "")

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", singleLine(msg.Subject)))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	if err := writePart(&b, boundary, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writePart(&b, boundary, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String()), nil
}

func writePart(b *strings.Builder, boundary, contentType, body string) error {
	fmt.Fprintf(b, "--%s\r\n", boundary)
	fmt.Fprintf(b, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	qp := quotedprintable.NewWriter(b)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("encode %s body: %w", contentType, err)
	}
	if err := qp.Close(); err != nil {
		return fmt.Errorf("encode %s body: %w", contentType, err)
	}
	b.WriteString("\r\n")
	return nil
}

// singleLine collapses any CR or LF runs in a header value into one space.
func singleLine(v string) string {
	return strings.Join(strings.FieldsFunc(v, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}
