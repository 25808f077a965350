package transport

import "context"

// Update is one inbound free-text message from the user.
type Update struct {
	ChatID int64
	Text   string
}

// Adapter connects the engine to a chat surface. Start forwards inbound
// text to out without blocking its own receive loop; implementations drop
// updates when the consumer is slower than the platform.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string) error
}
