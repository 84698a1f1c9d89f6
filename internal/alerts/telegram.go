package alerts

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

	"hl-delta-neutral/internal/config"

	"go.uber.org/zap"
)

const (
	defaultAPI  = "https://api.telegram.org"
	sendTimeout = 10 * time.Second
	tag         = "[hl-delta-neutral]"
)

// Telegram posts session outcomes to a single chat. A nil or disabled
// Telegram accepts every call and does nothing.
type Telegram struct {
	enabled bool
	token   string
	chatID  string
	api     string
	http    *http.Client
	log     *zap.Logger
}

type sendMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type apiReply struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, defaultAPI, nil)
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, api string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		api:     strings.TrimRight(api, "/"),
		http:    client,
		log:     log,
	}
}

func (t *Telegram) Enabled() bool {
	return t != nil && t.enabled
}

// Notify delivers a routine message without a push sound. Failures are logged
// and swallowed.
func (t *Telegram) Notify(ctx context.Context, format string, args ...any) {
	t.deliver(ctx, true, fmt.Sprintf(format, args...))
}

// Alarm is Notify for events that need attention, such as an aborted session.
func (t *Telegram) Alarm(ctx context.Context, format string, args ...any) {
	t.deliver(ctx, false, fmt.Sprintf(format, args...))
}

func (t *Telegram) deliver(ctx context.Context, quiet bool, text string) {
	if !t.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := t.send(ctx, text, quiet); err != nil {
		t.log.Warn("telegram alert failed", zap.Error(err))
	}
}

// Send posts message and reports any delivery error.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	return t.send(ctx, message, false)
}

func (t *Telegram) send(ctx context.Context, text string, quiet bool) error {
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("telegram message is empty")
	}
	return t.call(ctx, "sendMessage", sendMessage{
		ChatID:              t.chatID,
		Text:                tag + " " + text,
		DisableNotification: quiet,
	})
}

func (t *Telegram) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := t.api + "/bot" + t.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		// the request error embeds the URL, and with it the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var reply apiReply
	if jsonErr := json.Unmarshal(raw, &reply); jsonErr != nil {
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("telegram %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		// a 2xx without a JSON body is treated as delivered
		return nil
	}
	if !reply.OK {
		desc := strings.TrimSpace(reply.Description)
		if desc == "" {
			desc = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return fmt.Errorf("telegram %s: %s", method, desc)
	}
	return nil
}
