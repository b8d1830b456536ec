package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTP_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	s := NewSMTP("smtp.example.com", 587, "user", "pass")
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	d, err := s.Send(context.Background(), Message{
		To:      "user@example.com",
		From:    "alerts@example.com",
		Subject: "AQI in Fresno has crossed below your threshold",
		Text:    "It is now 40.",
		HTML:    "<p>It is now 40.</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp", d.Provider)
	assert.Contains(t, d.MessageID, "@smtp.example.com>")
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"user@example.com"}, gotTo)

	raw := string(gotMsg)
	assert.Contains(t, raw, "Subject: AQI in Fresno has crossed below your threshold\r\n")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "It is now 40.")
	assert.Contains(t, raw, "<p>It is now 40.</p>")
	assert.True(t, strings.HasSuffix(raw, "--\r\n"))
}

func TestSMTP_Send_Failure(t *testing.T) {
	s := NewSMTP("smtp.example.com", 25, "", "")
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("550 mailbox unavailable")
	}

	_, err := s.Send(context.Background(), Message{To: "user@example.com", From: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")
}

func TestSMTP_Send_InvalidAddress(t *testing.T) {
	s := NewSMTP("smtp.example.com", 25, "", "")
	_, err := s.Send(context.Background(), Message{To: "not-an-address"})
	assert.Error(t, err)
}

func TestSMTP_Send_MissingConfig(t *testing.T) {
	s := NewSMTP("", 0, "", "")
	_, err := s.Send(context.Background(), Message{To: "user@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing SMTP configuration")
}

func TestSMTP_Send_SubjectLineBreaksCannotAddHeaders(t *testing.T) {
	var gotMsg []byte
	s := NewSMTP("smtp.example.com", 587, "", "")
	s.sendMail = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	_, err := s.Send(context.Background(), Message{
		To:      "user@example.com",
		From:    "alerts@example.com",
		Subject: "AQI in São Paulo\r\nBcc: attacker@evil.com",
		Text:    "AQI in São Paulo is now 180.",
	})
	require.NoError(t, err)

	raw := string(gotMsg)
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.NotContains(t, raw, "\nBcc:")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.Contains(t, raw, "Content-Transfer-Encoding: quoted-printable\r\n")
	assert.Contains(t, raw, "S=C3=A3o Paulo is now 180.")
}

func TestSMTP_Send_RejectsAddressLineBreaks(t *testing.T) {
	called := false
	s := NewSMTP("smtp.example.com", 587, "", "")
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	tests := []struct {
		name string
		msg  Message
	}{
		{"to", Message{To: "user@example.com\r\nBcc: x@evil.com", From: "alerts@example.com"}},
		{"from", Message{To: "user@example.com", From: "alerts@example.com\nBcc: x@evil.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Send(context.Background(), tt.msg)
			assert.ErrorIs(t, err, ErrHeaderInjection)
		})
	}
	assert.False(t, called)
}
