package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL, srv.Client())
	require.IsType(t, &DiscordNotifier{}, n)

	require.NoError(t, n.Notify(context.Background(), "download of x.bin failed"))
	assert.Equal(t, "download of x.bin failed", got["content"])
}

func TestDiscordNotifier_Truncates(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, srv.Client())
	require.NoError(t, n.Notify(context.Background(), strings.Repeat("é", 5000)))
	assert.Equal(t, maxContentLength, utf8.RuneCountInString(got["content"]))
}

func TestDiscordNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL, srv.Client()).Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "429")

	assert.Error(t, (&DiscordNotifier{}).Notify(context.Background(), "x"))
}

func TestNew_NopWithoutWebhook(t *testing.T) {
	n := New("", nil)

	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), "ignored"))
}
