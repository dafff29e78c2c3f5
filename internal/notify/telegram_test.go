package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowops/n8nbak/internal/config"
)

type recordedRequest struct {
	path        string
	contentType string
	body        []byte
}

func testTelegram(t *testing.T, status int) (*Telegram, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	tg := NewTelegram(config.TelegramConfig{Token: "bot-token", ChatID: "42"}, zerolog.Nop())
	tg.baseURL = server.URL
	return tg, &requests
}

func TestSendMessage(t *testing.T) {
	tg, requests := testTelegram(t, http.StatusOK)

	require.NoError(t, tg.SendMessage(context.Background(), "backup ok"))
	require.Len(t, *requests, 1)

	req := (*requests)[0]
	assert.Equal(t, "/botbot-token/sendMessage", req.path)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(req.body, &payload))
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "backup ok", payload["text"])
}

func TestSendMessageAPIError(t *testing.T) {
	tg, _ := testTelegram(t, http.StatusForbidden)
	err := tg.SendMessage(context.Background(), "backup ok")
	assert.ErrorContains(t, err, "403")
}

func TestSendDocument(t *testing.T) {
	tg, requests := testTelegram(t, http.StatusOK)

	path := filepath.Join(t.TempDir(), "n8n_backup_20260828_031500.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("archive-bytes"), 0o600))

	require.NoError(t, tg.SendDocument(context.Background(), path, "nightly backup"))
	require.Len(t, *requests, 1)

	req := (*requests)[0]
	assert.Equal(t, "/botbot-token/sendDocument", req.path)
	assert.True(t, strings.HasPrefix(req.contentType, "multipart/form-data"))
	assert.Contains(t, string(req.body), "n8n_backup_20260828_031500.tar.gz")
	assert.Contains(t, string(req.body), "archive-bytes")
	assert.Contains(t, string(req.body), "nightly backup")
}

func TestSendDocumentRefusesOversizedFile(t *testing.T) {
	tg, requests := testTelegram(t, http.StatusOK)

	// A sparse file over the ceiling; no upload request may be made.
	path := filepath.Join(t.TempDir(), "big.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxDocumentBytes))
	require.NoError(t, f.Close())

	err = tg.SendDocument(context.Background(), path, "")
	assert.ErrorContains(t, err, "Telegram limit")
	assert.Empty(t, *requests)
}

func TestUnconfiguredSinkIsNoOp(t *testing.T) {
	tg := NewTelegram(config.TelegramConfig{}, zerolog.Nop())
	assert.False(t, tg.Enabled())
	assert.NoError(t, tg.SendMessage(context.Background(), "ignored"))
	assert.NoError(t, tg.SendDocument(context.Background(), "/nonexistent", ""))
}
