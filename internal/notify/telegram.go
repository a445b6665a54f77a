package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultAPI = "https://api.telegram.org"

	// pollTimeout is the server-side long-poll window for getUpdates; the
	// poll client's own timeout leaves headroom on top of it.
	pollTimeout = 25 * time.Second
	pollGrace   = 10 * time.Second

	// retryPause spaces out poll attempts after a transport failure.
	retryPause = 5 * time.Second
)

// Update is one inbound text message from a user.
type Update struct {
	ID     int64
	UserID int64
	ChatID int64
	Text   string
}

// Telegram sends notifications to a fixed chat and long-polls the bot API
// for inbound commands.
type Telegram struct {
	token  string
	chatID int64
	api    string
	logger *log.Logger

	// Separate clients: sends must fail fast, polls must outlive the
	// long-poll window.
	sendClient *http.Client
	pollClient *http.Client
}

// NewTelegram creates a Telegram notifier for the given bot token and
// chat. A nil logger discards output.
func NewTelegram(token string, chatID int64, logger *log.Logger) *Telegram {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Telegram{
		token:      token,
		chatID:     chatID,
		api:        defaultAPI,
		logger:     logger,
		sendClient: &http.Client{Timeout: 10 * time.Second},
		pollClient: &http.Client{Timeout: pollTimeout + pollGrace},
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (t *Telegram) WithBaseURL(base string) *Telegram {
	if base != "" {
		t.api = base
	}
	return t
}

// Send posts a Markdown-formatted notification to the configured chat.
// The title is rendered in bold above the message body.
func (t *Telegram) Send(ctx context.Context, title, message string) error {
	return t.SendTo(ctx, t.chatID, fmt.Sprintf("*%s*\n%s", title, message))
}

// SendTo posts text to an arbitrary chat, used for replies to inbound
// commands.
func (t *Telegram) SendTo(ctx context.Context, chatID int64, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.api, t.token)

	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.sendClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the channel identifier.
func (t *Telegram) Name() string {
	return "telegram"
}

var _ Notifier = (*Telegram)(nil)

type wireEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type wireUpdate struct {
	UpdateID int64        `json:"update_id"`
	Message  *wireMessage `json:"message"`
}

type wireMessage struct {
	From *wireUser `json:"from"`
	Chat wireChat  `json:"chat"`
	Text string    `json:"text"`
}

type wireUser struct {
	ID int64 `json:"id"`
}

type wireChat struct {
	ID int64 `json:"id"`
}

// Poll fetches updates past offset, long-polling server-side. Updates
// that are not text messages come back with an empty Text; callers still
// advance past their IDs.
func (t *Telegram) Poll(ctx context.Context, offset int64) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(int(pollTimeout.Seconds())))
	q.Set("allowed_updates", `["message"]`)
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", t.api, t.token, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}

	resp, err := t.pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: poll request: %w", err)
	}
	defer resp.Body.Close()

	var env wireEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("telegram: decode response: %w", err)
	}
	if !env.OK {
		return nil, fmt.Errorf("telegram: poll rejected: %s", env.Description)
	}

	var raw []wireUpdate
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}

	updates := make([]Update, 0, len(raw))
	for _, u := range raw {
		update := Update{ID: u.UpdateID}
		if u.Message != nil {
			update.ChatID = u.Message.Chat.ID
			update.Text = u.Message.Text
			if u.Message.From != nil {
				update.UserID = u.Message.From.ID
			}
		}
		updates = append(updates, update)
	}
	return updates, nil
}

// Listen long-polls until the context ends, invoking handle for every
// text message. Transport failures are logged and retried after a pause;
// the offset only ever moves forward, so a retried poll never replays
// handled updates.
func (t *Telegram) Listen(ctx context.Context, handle func(Update)) error {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := t.Poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Printf("Warning: polling telegram updates: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryPause):
			}
			continue
		}

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			if u.Text == "" {
				continue
			}
			handle(u)
		}
	}
}
