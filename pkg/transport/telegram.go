// Package transport adapts gopkg.in/telebot.v4 to the notify.Sender
// contract. Apart from internal/app's update handlers, it is the only
// package that knows about the concrete chat transport; every outbound
// send elsewhere in the module goes through notify.Sender.
package transport

import (
	"context"
	"regexp"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/devco/tripdesk/pkg/notify"
)

// Telegram adapts a *tele.Bot to notify.Sender.
type Telegram struct {
	bot *tele.Bot
}

// New wraps an already-constructed bot.
func New(bot *tele.Bot) *Telegram {
	return &Telegram{bot: bot}
}

// NewBot constructs the underlying telebot.Bot with long polling, the
// transport's own connection/read timeouts, for a deployment not
// wiring in webhooks.
func NewBot(token string) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
}

func parseMode(mode notify.ParseMode) tele.ParseMode {
	if mode == notify.ParseModePlain {
		return tele.ModeDefault
	}
	return tele.ModeHTML
}

func toMarkup(kb *notify.Keyboard) *tele.ReplyMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	markup := &tele.ReplyMarkup{}
	rows := make([][]tele.InlineButton, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		btnRow := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btnRow = append(btnRow, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, btnRow)
	}
	markup.InlineKeyboard = rows
	return markup
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string, mode notify.ParseMode, kb *notify.Keyboard) (string, error) {
	opts := &tele.SendOptions{ParseMode: parseMode(mode)}
	if markup := toMarkup(kb); markup != nil {
		opts.ReplyMarkup = markup
	}
	msg, err := t.bot.Send(tele.ChatID(chatID), text, opts)
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(msg.ID), nil
}

func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID string, text string, mode notify.ParseMode, kb *notify.Keyboard) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return err
	}
	opts := &tele.SendOptions{ParseMode: parseMode(mode)}
	if markup := toMarkup(kb); markup != nil {
		opts.ReplyMarkup = markup
	}
	editable := &tele.Message{ID: id, Chat: &tele.Chat{ID: chatID}}
	if _, err := t.bot.Edit(editable, text, opts); err != nil {
		return classify(err)
	}
	return nil
}

func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, photoID, caption string, mode notify.ParseMode, kb *notify.Keyboard) (string, error) {
	photo := &tele.Photo{File: tele.File{FileID: photoID}, Caption: caption}
	opts := &tele.SendOptions{ParseMode: parseMode(mode)}
	if markup := toMarkup(kb); markup != nil {
		opts.ReplyMarkup = markup
	}
	msg, err := t.bot.Send(tele.ChatID(chatID), photo, opts)
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(msg.ID), nil
}

func (t *Telegram) SendMediaGroup(ctx context.Context, chatID int64, photoIDs []string, caption string) error {
	album := make(tele.Album, 0, len(photoIDs))
	for i, id := range photoIDs {
		p := &tele.Photo{File: tele.File{FileID: id}}
		if i == 0 {
			p.Caption = caption
		}
		album = append(album, p)
	}
	if _, err := t.bot.SendAlbum(tele.ChatID(chatID), album); err != nil {
		return classify(err)
	}
	return nil
}

func (t *Telegram) SendLocation(ctx context.Context, chatID int64, latitude, longitude float64) error {
	loc := &tele.Location{Lat: float32(latitude), Lng: float32(longitude)}
	if _, err := t.bot.Send(tele.ChatID(chatID), loc); err != nil {
		return classify(err)
	}
	return nil
}

var retryAfterPattern = regexp.MustCompile(`retry after (\d+)`)

// classify maps a telebot error into the closed notify.ErrKind set.
func classify(err error) *notify.SendError {
	te, ok := err.(*tele.Error)
	if !ok {
		return &notify.SendError{Kind: notify.KindUnexpected, Err: err}
	}

	switch te.Code {
	case 403:
		return &notify.SendError{Kind: notify.KindPermanentTransport, Err: err}
	case 429:
		retryAfter := time.Duration(0)
		if m := retryAfterPattern.FindStringSubmatch(te.Description); m != nil {
			if secs, parseErr := strconv.Atoi(m[1]); parseErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &notify.SendError{Kind: notify.KindTransientTransport, RetryAfter: retryAfter, Err: err}
	case 400:
		if isParseModeError(te.Description) {
			return &notify.SendError{Kind: notify.KindParseMode, Err: err}
		}
		return &notify.SendError{Kind: notify.KindUnexpected, Err: err}
	default:
		return &notify.SendError{Kind: notify.KindUnexpected, Err: err}
	}
}

func isParseModeError(description string) bool {
	return regexp.MustCompile(`(?i)can't parse entities|unsupported start tag`).MatchString(description)
}
