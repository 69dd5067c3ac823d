// Package notify is the single outbound chat-transport boundary: one
// method per effect, automatic rich-text-to-plain-text fallback, rate
// limit backoff, and a deduplicated admin error fan-out.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ParseMode selects how the transport should render message text.
type ParseMode string

const (
	ParseModeRich  ParseMode = "rich"
	ParseModePlain ParseMode = "plain"
)

// Button is one inline keyboard button: a label plus opaque callback data.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, outermost slice rows top to bottom.
type Keyboard struct {
	Rows [][]Button
}

// ErrKind is the closed set of transport failure kinds from spec §7.
type ErrKind string

const (
	KindTransientTransport ErrKind = "transient_transport"
	KindPermanentTransport ErrKind = "permanent_transport"
	KindParseMode          ErrKind = "parse_mode"
	KindUnexpected         ErrKind = "unexpected"
)

// SendError carries a classified transport failure plus, for rate limit
// errors, the transport's own suggested retry delay.
type SendError struct {
	Kind       ErrKind
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notify: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("notify: %s", e.Kind)
}

func (e *SendError) Unwrap() error { return e.Err }

// Sender is the chat transport's send-side contract. Any transport with
// send/edit/callback semantics (Telegram, Slack, Mattermost, a test
// double) satisfies it.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, mode ParseMode, kb *Keyboard) (messageID string, err error)
	Edit(ctx context.Context, chatID int64, messageID string, text string, mode ParseMode, kb *Keyboard) error
	SendPhoto(ctx context.Context, chatID int64, photoID, caption string, mode ParseMode, kb *Keyboard) (messageID string, err error)
	SendMediaGroup(ctx context.Context, chatID int64, photoIDs []string, caption string) error
	SendLocation(ctx context.Context, chatID int64, latitude, longitude float64) error
}

const maxAttempts = 3

// Notifier wraps a Sender with the retry/fallback policy of §4.G. All
// outbound sends pass through its rate limiter before reaching the
// transport.
type Notifier struct {
	sender  Sender
	logger  *slog.Logger
	limiter *rate.Limiter
	dedup   *ErrorDedup
	retries retryCounter
}

// retryCounter is satisfied by internal/telemetry's CounterVec wrapper;
// kept as an interface here so notify doesn't import telemetry directly.
type retryCounter interface {
	IncRetry(reason string)
	IncFailure(kind string)
}

// NewNotifier builds a Notifier. ratePerSecond/burst bound outbound sends
// (grounded on the same token-bucket shape a sibling Telegram bot in the
// pack uses to stay under the transport's flood limits). metrics may be
// nil in tests.
func NewNotifier(sender Sender, logger *slog.Logger, dedup *ErrorDedup, ratePerSecond float64, burst int, metrics retryCounter) *Notifier {
	if metrics == nil {
		metrics = noopCounter{}
	}
	return &Notifier{
		sender:  sender,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		dedup:   dedup,
		retries: metrics,
	}
}

type noopCounter struct{}

func (noopCounter) IncRetry(string)   {}
func (noopCounter) IncFailure(string) {}

// Send delivers text to chatID with the retry/fallback policy, returning
// the transport-assigned message id.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string, kb *Keyboard) (string, error) {
	return n.attempt(ctx, func(mode ParseMode) (string, error) {
		return n.sender.Send(ctx, chatID, text, mode, kb)
	})
}

// Edit updates an existing message with the same retry/fallback policy.
func (n *Notifier) Edit(ctx context.Context, chatID int64, messageID, text string, kb *Keyboard) error {
	_, err := n.attempt(ctx, func(mode ParseMode) (string, error) {
		return "", n.sender.Edit(ctx, chatID, messageID, text, mode, kb)
	})
	return err
}

// SendPhoto sends a single photo with a caption under the same policy.
func (n *Notifier) SendPhoto(ctx context.Context, chatID int64, photoID, caption string, kb *Keyboard) (string, error) {
	return n.attempt(ctx, func(mode ParseMode) (string, error) {
		return n.sender.SendPhoto(ctx, chatID, photoID, caption, mode, kb)
	})
}

// SendMediaGroup sends a batch of photos. Media groups have no parse-mode
// fallback concept in most transports, but still carry the rate limit and
// transient-error retry policy.
func (n *Notifier) SendMediaGroup(ctx context.Context, chatID int64, photoIDs []string, caption string) error {
	_, err := n.attempt(ctx, func(ParseMode) (string, error) {
		return "", n.sender.SendMediaGroup(ctx, chatID, photoIDs, caption)
	})
	return err
}

// SendLocation shares a geographic point.
func (n *Notifier) SendLocation(ctx context.Context, chatID int64, latitude, longitude float64) error {
	_, err := n.attempt(ctx, func(ParseMode) (string, error) {
		return "", n.sender.SendLocation(ctx, chatID, latitude, longitude)
	})
	return err
}

// attempt runs op with rich-text mode, falling back to plain text once on
// a parse_mode error, and retrying transient errors with backoff up to
// maxAttempts.
func (n *Notifier) attempt(ctx context.Context, op func(mode ParseMode) (string, error)) (string, error) {
	mode := ParseModeRich
	var lastErr error

	for i := 0; i < maxAttempts; i++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return "", err
		}

		id, err := op(mode)
		if err == nil {
			return id, nil
		}

		var sendErr *SendError
		if !errors.As(err, &sendErr) {
			n.retries.IncFailure(string(KindUnexpected))
			return "", err
		}

		switch sendErr.Kind {
		case KindParseMode:
			if mode == ParseModePlain {
				n.retries.IncFailure(string(KindParseMode))
				return "", err
			}
			n.retries.IncRetry("parse_mode")
			mode = ParseModePlain
			continue

		case KindTransientTransport:
			lastErr = err
			n.retries.IncRetry("rate_limit")
			delay := sendErr.RetryAfter
			if delay <= 0 {
				delay = backoffDelay(i)
			} else {
				delay += time.Second
			}
			if !sleep(ctx, delay) {
				return "", ctx.Err()
			}
			continue

		case KindPermanentTransport:
			n.retries.IncFailure(string(KindPermanentTransport))
			return "", err

		default:
			n.retries.IncFailure(string(KindUnexpected))
			return "", err
		}
	}

	n.retries.IncFailure(string(KindTransientTransport))
	return "", lastErr
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 0:
		return time.Second
	case 1:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
