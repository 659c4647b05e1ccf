package notifier

import "context"

// Button is one inline action key attached to a message.
type Button struct {
	Label string
	Data  string
}

// Notifier delivers operator-facing messages. It is intentionally small so
// components can depend on it without importing concrete implementations
// (e.g. Telegram). Send methods return the provider message id so callers
// can edit the message later, e.g. when a signal expires.
type Notifier interface {
	SendText(ctx context.Context, text string) (int64, error)
	SendWithButtons(ctx context.Context, text string, rows [][]Button) (int64, error)
	EditText(ctx context.Context, messageID int64, text string) error
}

// Noop drops every message, used when notifications are disabled.
type Noop struct{}

func (Noop) SendText(context.Context, string) (int64, error) { return 0, nil }

func (Noop) SendWithButtons(context.Context, string, [][]Button) (int64, error) { return 0, nil }

func (Noop) EditText(context.Context, int64, string) error { return nil }
