package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botAPI struct {
	mu       sync.Mutex
	paths    []string
	messages []sendMessage
	respond  func(n int) (int, string)
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg sendMessage
	_ = json.NewDecoder(r.Body).Decode(&msg)

	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.messages = append(b.messages, msg)
	n := len(b.messages)
	b.mu.Unlock()

	status, body := http.StatusOK, `{"ok":true}`
	if b.respond != nil {
		status, body = b.respond(n)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestPublishDigestSendsHTML(t *testing.T) {
	api := &botAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	n := NewNotifier("123:abc", "42", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, n.PublishDigest(context.Background(), "**Scan pass finished**\n\n- Hot: 2\n- Warm: 1"))

	require.Len(t, api.messages, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	msg := api.messages[0]
	assert.Equal(t, "42", msg.ChatID)
	assert.Equal(t, "HTML", msg.ParseMode)
	assert.Contains(t, msg.Text, "Scan pass finished")
	assert.Contains(t, msg.Text, "Hot: 2")
	assert.NotContains(t, msg.Text, "**")
}

func TestPublishDigestFallsBackToPlainText(t *testing.T) {
	api := &botAPI{respond: func(n int) (int, string) {
		if n == 1 {
			return http.StatusBadRequest, `{"ok":false,"description":"Bad Request: can't parse entities"}`
		}
		return http.StatusOK, `{"ok":true}`
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	n := NewNotifier("t", "c", WithBaseURL(srv.URL))
	require.NoError(t, n.PublishDigest(context.Background(), "**Hot**: `3`"))

	require.Len(t, api.messages, 2)
	assert.Empty(t, api.messages[1].ParseMode)
	assert.Equal(t, "Hot: 3", api.messages[1].Text)
}

func TestPublishDigestReportsAPIError(t *testing.T) {
	api := &botAPI{respond: func(int) (int, string) {
		return http.StatusUnauthorized, `{"ok":false,"description":"Unauthorized"}`
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	err := NewNotifier("t", "c", WithBaseURL(srv.URL)).PublishDigest(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
	assert.Len(t, api.messages, 1)
}

func TestPublishDigestNeedsCredentials(t *testing.T) {
	require.Error(t, NewNotifier("", "c").PublishDigest(context.Background(), "hi"))
}
