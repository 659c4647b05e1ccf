package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"tradeguard/internal/logger"
)

// Telegram pushes operator messages to a fixed chat. Every call retries up
// to 3 times with a short growing pause.
type Telegram struct {
	botToken string
	chatID   string
	client   *resty.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		client:   resty.New().SetTimeout(15 * time.Second),
	}
}

type telegramResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *Telegram) SendText(ctx context.Context, text string) (int64, error) {
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
}

func (t *Telegram) SendWithButtons(ctx context.Context, text string, rows [][]Button) (int64, error) {
	keyboard := make([][]map[string]string, 0, len(rows))
	for _, row := range rows {
		r := make([]map[string]string, 0, len(row))
		for _, b := range row {
			r = append(r, map[string]string{"text": b.Label, "callback_data": b.Data})
		}
		keyboard = append(keyboard, r)
	}
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id":      t.chatID,
		"text":         text,
		"parse_mode":   "HTML",
		"reply_markup": map[string]any{"inline_keyboard": keyboard},
	})
}

func (t *Telegram) EditText(ctx context.Context, messageID int64, text string) error {
	_, err := t.call(ctx, "editMessageText", map[string]any{
		"chat_id":    t.chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	})
	return err
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) (int64, error) {
	if t.botToken == "" || t.chatID == "" {
		return 0, fmt.Errorf("telegram is not configured")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/%s", t.botToken, method)

	var lastErr error
	for i := 0; i < 3; i++ {
		var out telegramResult
		resp, err := t.client.R().
			SetContext(ctx).
			SetBody(payload).
			SetResult(&out).
			Post(url)
		if err == nil && resp.StatusCode()/100 == 2 && out.OK {
			return out.Result.MessageID, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("telegram %s status=%d: %s", method, resp.StatusCode(), out.Description)
		}
		logger.Warnf("notifier: %v, retry %d/3", lastErr, i+1)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return 0, lastErr
}
