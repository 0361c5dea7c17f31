package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
)

const defaultTelegramURL = "https://api.telegram.org"

type TelegramConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Token   string   `mapstructure:"token"`
	ChatIDs []string `mapstructure:"chat_ids"`
	BaseURL string   `mapstructure:"base_url"`
}

// TelegramSink posts the change message to every configured chat through
// the Bot API sendMessage method.
type TelegramSink struct {
	cfg    TelegramConfig
	client *http.Client
}

func NewTelegramSink(cfg TelegramConfig) *TelegramSink {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TelegramSink{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramSink) NotifyStateChange(ctx context.Context, change domain.StateChange) error {
	text := Message(change)
	var errs []error
	for _, chatID := range t.cfg.ChatIDs {
		if err := t.send(ctx, chatID, text); err != nil {
			errs = append(errs, fmt.Errorf("telegram chat %s: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (t *TelegramSink) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", t.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", t.redact(err))
	}
	defer resp.Body.Close()

	var out telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("bot api error (status %d): %s", resp.StatusCode, out.Description)
	}
	return nil
}

// redact strips the bot token, which is part of the request path, from
// transport errors before they reach the logs.
func (t *TelegramSink) redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = t.cfg.BaseURL + "/bot<redacted>/sendMessage"
	}
	if t.cfg.Token == "" || !strings.Contains(err.Error(), t.cfg.Token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), t.cfg.Token, "<redacted>"))
}
