// Package notify sends best-effort status messages to Telegram. Failures
// here never fail a backup run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/config"
)

// MaxDocumentBytes is Telegram's bot-API ceiling for file uploads. Archives
// at or above it are described in a message instead of attached.
const MaxDocumentBytes = 20 << 20

// Telegram is a minimal bot-API client: sendMessage and sendDocument only.
type Telegram struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTelegram creates a Telegram sink. With an empty token or chat ID the
// sink is disabled and every send is a no-op.
func NewTelegram(cfg config.TelegramConfig, logger zerolog.Logger) *Telegram {
	return &Telegram{
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		baseURL: "https://api.telegram.org",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With().Str("component", "telegram").Logger(),
	}
}

// Enabled reports whether the sink is configured.
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// SendMessage posts a plain-text message to the configured chat.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	if !t.Enabled() {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req)
}

// SendDocument uploads a file as an attachment with a caption. Callers are
// expected to gate on MaxDocumentBytes first; oversized uploads are
// rejected here as a backstop.
func (t *Telegram) SendDocument(ctx context.Context, path, caption string) error {
	if !t.Enabled() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat document: %w", err)
	}
	if info.Size() >= MaxDocumentBytes {
		return fmt.Errorf("document %s is %d bytes, over the %d byte Telegram limit", path, info.Size(), int64(MaxDocumentBytes))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return t.do(req)
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
