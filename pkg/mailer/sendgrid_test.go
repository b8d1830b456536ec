package mailer_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqimebaby/aqialert/pkg/mailer"
)

func testMessage() mailer.Message {
	return mailer.Message{
		To:      "user@example.com",
		From:    "alerts@example.com",
		Subject: "AQI in Oakland has crossed above your threshold",
		Text:    "It is now 150.",
		HTML:    "<p>It is now 150.</p>",
	}
}

func TestSendGrid_Name(t *testing.T) {
	assert.Equal(t, "sendgrid", mailer.NewSendGrid("key", "").Name())
}

func TestSendGrid_Send(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)
		w.Header().Set("X-Message-Id", "msg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := mailer.NewSendGrid("sg-key", server.URL)
	d, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", d.Provider)
	assert.Equal(t, "msg-123", d.MessageID)
	assert.False(t, d.AcceptedAt.IsZero())

	assert.Equal(t, "AQI in Oakland has crossed above your threshold", received["subject"])
	from := received["from"].(map[string]any)
	assert.Equal(t, "alerts@example.com", from["email"])
	content := received["content"].([]any)
	assert.Len(t, content, 2)
}

func TestSendGrid_Send_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer server.Close()

	s := mailer.NewSendGrid("wrong", server.URL)
	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "bad key")
}

func TestLog_Send(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	l := mailer.NewLog(logger)
	assert.Equal(t, "log", l.Name())

	d, err := l.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, d.MessageID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Send(ctx, testMessage())
	assert.Error(t, err)
}
