package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredMessageRender(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "⚠️",
		Title: "风控触发",
		Sections: []MessageSection{
			Section("原因", "连续亏损 3 次", " "),
			Section("空段落"),
			Section("代码", "```x```"),
		},
		Footer:    "perpflow",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	out := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(out, "⚠️ 风控触发"))
	assert.Contains(t, out, "- 连续亏损 3 次")
	assert.NotContains(t, out, "空段落")
	assert.Contains(t, out, "'''x'''")
	assert.Contains(t, out, "2024-01-02 03:04:05 UTC")

	long := StructuredMessage{Title: strings.Repeat("长", maxStructuredMessageLen+10)}
	assert.True(t, strings.HasSuffix(long.RenderMarkdown(), "..."))
}

func TestTelegramSendText(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["chat_id"])
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.backoff = time.Millisecond
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTelegramStopsOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.backoff = time.Millisecond
	err := tg.SendText(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.Error(t, NewTelegram("", "").SendText(context.Background(), "x"))
}
