package aqi_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqimebaby/aqialert/pkg/aqi"
	"github.com/aqimebaby/aqialert/pkg/ratelimit"
)

type countingPacer struct {
	calls atomic.Int32
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.calls.Add(1)
	return ctx.Err()
}

func newFeedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/geo:37.77;-122.42/", r.URL.Path)
		assert.Equal(t, "test-token", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_Fetch_OK(t *testing.T) {
	server := newFeedServer(t, http.StatusOK, `{"status":"ok","data":{"aqi":150,"city":{"name":"San Francisco"}}}`)
	pacer := &countingPacer{}
	c := aqi.NewClient("test-token", pacer, time.Second, aqi.WithBaseURL(server.URL))

	r := c.Fetch(context.Background(), 37.77, -122.42)
	require.True(t, r.OK, "err: %v", r.Err)
	assert.Equal(t, 150.0, r.Value)
	assert.Equal(t, "ok", r.Status)
	assert.Equal(t, "San Francisco", r.Station)
	assert.False(t, r.FetchedAt.IsZero())
	assert.Equal(t, int32(1), pacer.calls.Load())
}

func TestClient_Fetch_ErrorStatus(t *testing.T) {
	server := newFeedServer(t, http.StatusOK, `{"status":"error","data":"Invalid key"}`)
	c := aqi.NewClient("test-token", ratelimit.Unlimited{}, time.Second, aqi.WithBaseURL(server.URL))

	r := c.Fetch(context.Background(), 37.77, -122.42)
	assert.False(t, r.OK)
	assert.Equal(t, "error", r.Status)
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "Invalid key")
}

func TestClient_Fetch_HTTPError(t *testing.T) {
	server := newFeedServer(t, http.StatusBadGateway, `upstream down`)
	c := aqi.NewClient("test-token", ratelimit.Unlimited{}, time.Second, aqi.WithBaseURL(server.URL))

	r := c.Fetch(context.Background(), 37.77, -122.42)
	assert.False(t, r.OK)
	assert.Equal(t, aqi.StatusHTTP, r.Status)
	assert.Contains(t, r.Err.Error(), "status 502")
}

func TestClient_Fetch_TransportErrorRedactsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	c := aqi.NewClient("secret-token", ratelimit.Unlimited{}, time.Second, aqi.WithBaseURL(url))
	r := c.Fetch(context.Background(), 1, 2)
	assert.False(t, r.OK)
	assert.Equal(t, aqi.StatusTransport, r.Status)
	require.Error(t, r.Err)
	assert.NotContains(t, r.Err.Error(), "secret-token")
}

func TestClient_Fetch_PacesEveryRequestIncludingFailures(t *testing.T) {
	var n atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"status":"ok","data":{"aqi":10}}`)
	}))
	defer server.Close()

	pacer := &countingPacer{}
	c := aqi.NewClient("t", pacer, time.Second, aqi.WithBaseURL(server.URL))
	for i := 0; i < 4; i++ {
		c.Fetch(context.Background(), 1, 1)
	}
	assert.Equal(t, int32(4), pacer.calls.Load())
	assert.Equal(t, int32(4), n.Load())
}

func TestClient_Fetch_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := aqi.NewClient("t", ratelimit.Unlimited{}, time.Second, aqi.WithBaseURL("http://127.0.0.1:0"))
	r := c.Fetch(ctx, 1, 1)
	assert.False(t, r.OK)
	assert.Equal(t, aqi.StatusCancelled, r.Status)
}

func TestParseFeed(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		value  float64
		status string
	}{
		{"integer aqi", `{"status":"ok","data":{"aqi":42}}`, true, 42, "ok"},
		{"fractional aqi kept", `{"status":"ok","data":{"aqi":99.6}}`, true, 99.6, "ok"},
		{"fraction just over a level", `{"status":"ok","data":{"aqi":100.4}}`, true, 100.4, "ok"},
		{"fractional string aqi", `{"status":"ok","data":{"aqi":"100.4"}}`, true, 100.4, "ok"},
		{"numeric string aqi", `{"status":"ok","data":{"aqi":"87"}}`, true, 87, "ok"},
		{"dash means no data", `{"status":"ok","data":{"aqi":"-"}}`, false, 0, aqi.StatusNoData},
		{"missing aqi", `{"status":"ok","data":{}}`, false, 0, aqi.StatusNoData},
		{"garbage aqi", `{"status":"ok","data":{"aqi":"n/a"}}`, false, 0, aqi.StatusMalformed},
		{"negative aqi", `{"status":"ok","data":{"aqi":-3}}`, false, 0, aqi.StatusMalformed},
		{"data is string", `{"status":"ok","data":"oops"}`, false, 0, aqi.StatusMalformed},
		{"not json", `<html>`, false, 0, aqi.StatusMalformed},
		{"missing status", `{"data":{"aqi":10}}`, false, 0, aqi.StatusMalformed},
		{"unknown station", `{"status":"nug","data":"Unknown station"}`, false, 0, "nug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := aqi.ParseFeed([]byte(tt.body))
			assert.Equal(t, tt.ok, r.OK)
			assert.Equal(t, tt.status, r.Status)
			if tt.ok {
				assert.Equal(t, tt.value, r.Value)
				assert.NoError(t, r.Err)
			} else {
				assert.Error(t, r.Err)
			}
		})
	}
}
