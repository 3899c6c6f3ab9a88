package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/minutecast/minutecast/internal/domain"
)

// DirectMessageAdapter delivers the plain-text rendering of the minutes to a
// chat identity.
type DirectMessageAdapter struct {
	transport DirectMessageTransport
	limiter   *rate.Limiter
}

// NewDirectMessageAdapter wraps a transport with an optional per-channel
// send throttle (ratePerSec <= 0 disables it).
func NewDirectMessageAdapter(transport DirectMessageTransport, ratePerSec int) *DirectMessageAdapter {
	return &DirectMessageAdapter{transport: transport, limiter: newLimiter(ratePerSec)}
}

func (a *DirectMessageAdapter) Channel() domain.Channel {
	return domain.ChannelDirectMessage
}

func (a *DirectMessageAdapter) Send(ctx context.Context, recipient domain.Recipient, doc domain.Document) Outcome {
	start := time.Now()
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return classify(err, start)
	}
	content := doc.TextBody
	if content == "" {
		content = doc.Subject
	}
	err := a.transport.PostMessage(ctx, recipient.ContactAddress, content)
	return classify(err, start)
}

// TelegramTransport posts messages through the Telegram Bot API.
type TelegramTransport struct {
	bot *tele.Bot
}

// NewTelegramTransport creates a send-only Telegram client. No poller is
// configured; the engine only needs a terminal outcome per send, not a
// long-lived update session.
func NewTelegramTransport(token string) (*TelegramTransport, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramTransport{bot: bot}, nil
}

// PostMessage sends content to the chat named by identity (a numeric chat
// id). Address-format problems never reach the wire.
func (t *TelegramTransport) PostMessage(ctx context.Context, identity, content string) error {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return &PermanentError{Reason: fmt.Sprintf("invalid chat identity %q", identity)}
	}

	_, err = t.bot.Send(&tele.Chat{ID: chatID}, content)
	if err != nil {
		return classifyTelegramError(err)
	}
	return nil
}

func classifyTelegramError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &TransientError{Reason: fmt.Sprintf("flood limit, retry after %ds", flood.RetryAfter), Err: err}
	}
	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated):
		return &PermanentError{Reason: "chat unreachable", Err: err}
	}
	return &TransientError{Reason: "telegram send", Err: err}
}
