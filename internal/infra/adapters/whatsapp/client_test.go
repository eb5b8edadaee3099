package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
)

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	log := zerolog.Nop()
	c, err := NewClient(Config{
		Token:         "tok",
		VerifyToken:   "verify-me",
		PhoneNumberID: "PNID",
		BaseURL:       base,
		SendRPS:       1000,
	}, &log)
	require.NoError(t, err)
	return c
}

func TestVerifyChallenge(t *testing.T) {
	c := newTestClient(t, "http://unused")

	got, err := c.VerifyChallenge("subscribe", "verify-me", "12345")
	require.NoError(t, err)
	assert.Equal(t, "12345", got)

	for _, tc := range []struct{ mode, token, challenge string }{
		{"subscribe", "wrong", "1"},
		{"unsubscribe", "verify-me", "1"},
		{"", "verify-me", "1"},
		{"subscribe", "verify-me", ""},
	} {
		_, err := c.VerifyChallenge(tc.mode, tc.token, tc.challenge)
		assert.ErrorIs(t, err, domain.ErrInvalidVerification)
	}
}

func TestSend_PostsTextMessage(t *testing.T) {
	var mu sync.Mutex
	var bodies []textMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v22.0/CHANNEL/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var m textMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		mu.Lock()
		bodies = append(bodies, m)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.Send(context.Background(), "4915550001", "hello", model.ChannelContext{PhoneNumberID: "CHANNEL"})
	require.NoError(t, err)

	require.Len(t, bodies, 1)
	assert.Equal(t, "whatsapp", bodies[0].MessagingProduct)
	assert.Equal(t, "4915550001", bodies[0].To)
	assert.Equal(t, "hello", bodies[0].Text.Body)
}

func TestSend_SplitsLongText(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	long := strings.Repeat("a", maxTextRunes+10)
	require.NoError(t, c.Send(context.Background(), "1", long, model.ChannelContext{}))
	assert.Equal(t, 2, calls)
}

func TestSend_ReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","code":100}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.Send(context.Background(), "1", "x", model.ChannelContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid parameter")
}

func TestFetchMedia(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v22.0/MEDIA1":
			_ = json.NewEncoder(w).Encode(map[string]any{"url": srv.URL + "/download/MEDIA1", "mime_type": "audio/ogg"})
		case "/download/MEDIA1":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte("OGGDATA"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	m, err := c.FetchMedia(context.Background(), "MEDIA1")
	require.NoError(t, err)
	assert.Equal(t, []byte("OGGDATA"), m.Data)
	assert.Equal(t, "audio/ogg", m.MimeType)

	_, err = c.FetchMedia(context.Background(), "MISSING")
	assert.Error(t, err)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"abc"}, splitText("abc", 10))

	parts := splitText("aaaa\nbbbbbb", 8)
	assert.Equal(t, []string{"aaaa\n", "bbbbbb"}, parts)

	parts = splitText(strings.Repeat("x", 25), 10)
	assert.Len(t, parts, 3)
	assert.Equal(t, 10, len(parts[0]))
}
