package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	tele "gopkg.in/telebot.v4"

	"github.com/devco/tripdesk/pkg/booking"
	"github.com/devco/tripdesk/pkg/convo"
	"github.com/devco/tripdesk/pkg/flows/browse"
	"github.com/devco/tripdesk/pkg/flows/registration"
	"github.com/devco/tripdesk/pkg/flows/wizard"
	"github.com/devco/tripdesk/pkg/store"
)

const browseRegion = "zomin"

func (a *App) registerHandlers() {
	a.bot.Handle("/start", a.handleStart)
	a.bot.Handle("/help", a.handleHelp)
	a.bot.Handle("/browse", a.handleBrowse)
	a.bot.Handle("/add", a.handleAdd)
	a.bot.Handle("/my_listings", a.handleMyListings)
	a.bot.Handle("/health", a.handleHealth)
	a.bot.Handle(tele.OnText, a.onText)
	a.bot.Handle(tele.OnContact, a.onContact)
	a.bot.Handle(tele.OnLocation, a.onLocation)
	a.bot.Handle(tele.OnPhoto, a.onPhoto)
	a.bot.Handle(tele.OnCallback, a.onCallback)
}

func (a *App) handleStart(c tele.Context) error {
	ctx := context.Background()
	chatID := c.Chat().ID

	if _, err := a.store.GetUser(ctx, chatID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := a.runtime.StartFlow(ctx, chatID, registration.FlowID); err != nil {
				return a.unexpected(c, ctx, err)
			}
			return c.Send("Welcome to TripDesk! Please share your phone number to register.", contactRequestMarkup())
		}
		return a.unexpected(c, ctx, err)
	}

	return c.Send("Welcome back. Use /browse to look at lodging, guides, taxis, and places.")
}

func (a *App) handleHelp(c tele.Context) error {
	return c.Send(strings.Join([]string{
		"/start - register or see a welcome message",
		"/browse - look at listings and book one",
		"/cancel - leave whatever you're doing right now",
		"/add - (partners) publish a new listing",
		"/my_listings - (partners) see your published listings",
	}, "\n"))
}

func (a *App) handleBrowse(c tele.Context) error {
	ctx := context.Background()
	chatID := c.Chat().ID

	if _, err := a.store.GetUser(ctx, chatID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Send("Please /start first to register.")
		}
		return a.unexpected(c, ctx, err)
	}

	if err := a.runtime.StartFlow(ctx, chatID, browse.FlowID); err != nil {
		return a.unexpected(c, ctx, err)
	}
	return c.Send(fmt.Sprintf("Which region? Only %q is supported right now.", browseRegion))
}

func (a *App) handleAdd(c tele.Context) error {
	ctx := context.Background()
	chatID := c.Chat().ID

	if !a.cfg.IsAdmin(chatID) {
		return c.Send("This command is for registered partners only.")
	}
	if err := a.runtime.StartFlow(ctx, chatID, wizard.FlowID); err != nil {
		return a.unexpected(c, ctx, err)
	}
	return c.Send("Let's add a new listing. Pick a category:", wizardCategoryMarkup())
}

func (a *App) handleMyListings(c tele.Context) error {
	ctx := context.Background()
	chatID := c.Chat().ID

	if !a.cfg.IsAdmin(chatID) {
		return c.Send("This command is for registered partners only.")
	}

	listings, err := a.store.ListingsByOwner(ctx, chatID)
	if err != nil {
		return a.unexpected(c, ctx, err)
	}
	if len(listings) == 0 {
		return c.Send("You have no listings yet. Use /add to create one.")
	}

	var sb strings.Builder
	for _, l := range listings {
		status := "active"
		if !l.IsActive {
			status = "inactive"
		}
		fmt.Fprintf(&sb, "%s — %s (%s)\n", l.Title, l.Category, status)
	}
	return c.Send(sb.String())
}

func (a *App) handleHealth(c tele.Context) error {
	if !a.cfg.IsAdmin(c.Chat().ID) {
		return c.Send("This command is for admins only.")
	}
	return c.Send("tripdesk is running. Detailed checks live at /readyz.")
}

func (a *App) onText(c tele.Context) error {
	ctx := context.Background()
	result, err := a.runtime.Dispatch(ctx, convo.Update{
		ChatID: c.Chat().ID,
		Kind:   convo.UpdateText,
		Text:   c.Text(),
	})
	if err != nil {
		return a.handleDispatchError(c, ctx, err)
	}
	return a.reply(c, result)
}

func (a *App) onContact(c tele.Context) error {
	ctx := context.Background()
	contact := c.Message().Contact
	if contact == nil {
		return nil
	}
	result, err := a.runtime.Dispatch(ctx, convo.Update{
		ChatID: c.Chat().ID,
		Kind:   convo.UpdateContact,
		Contact: &convo.Contact{
			PhoneNumber:  contact.PhoneNumber,
			SenderChatID: contact.UserID,
		},
	})
	if err != nil {
		return a.handleDispatchError(c, ctx, err)
	}
	return a.reply(c, result)
}

func (a *App) onLocation(c tele.Context) error {
	ctx := context.Background()
	loc := c.Message().Location
	if loc == nil {
		return nil
	}
	result, err := a.runtime.Dispatch(ctx, convo.Update{
		ChatID: c.Chat().ID,
		Kind:   convo.UpdateLocation,
		Location: &convo.Location{
			Latitude:  float64(loc.Lat),
			Longitude: float64(loc.Lng),
		},
	})
	if err != nil {
		return a.handleDispatchError(c, ctx, err)
	}
	return a.reply(c, result)
}

func (a *App) onPhoto(c tele.Context) error {
	ctx := context.Background()
	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return nil
	}
	result, err := a.runtime.Dispatch(ctx, convo.Update{
		ChatID:  c.Chat().ID,
		Kind:    convo.UpdatePhoto,
		PhotoID: msg.Photo.FileID,
	})
	if err != nil {
		return a.handleDispatchError(c, ctx, err)
	}
	return a.reply(c, result)
}

func (a *App) onCallback(c tele.Context) error {
	ctx := context.Background()
	cb := c.Callback()
	if cb == nil {
		return nil
	}

	if strings.HasPrefix(cb.Data, "accept:") || strings.HasPrefix(cb.Data, "reject:") {
		return a.handleBookingDecision(ctx, c, cb.Data)
	}

	result, err := a.runtime.Dispatch(ctx, convo.Update{
		ChatID:       c.Chat().ID,
		Kind:         convo.UpdateCallback,
		CallbackData: cb.Data,
	})
	if err != nil {
		_ = c.Respond(&tele.CallbackResponse{})
		return a.handleDispatchError(c, ctx, err)
	}
	if err := c.Respond(&tele.CallbackResponse{}); err != nil {
		a.logger.Warn("failed to acknowledge callback", "error", err)
	}
	return a.reply(c, result)
}

func (a *App) handleBookingDecision(ctx context.Context, c tele.Context, data string) error {
	var decision booking.Decision
	var prefix string
	switch {
	case strings.HasPrefix(data, "accept:"):
		decision = booking.DecisionAccept
		prefix = strings.TrimPrefix(data, "accept:")
	case strings.HasPrefix(data, "reject:"):
		decision = booking.DecisionReject
		prefix = strings.TrimPrefix(data, "reject:")
	}

	b, err := a.store.GetBookingByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Respond(&tele.CallbackResponse{Text: "Booking not found.", ShowAlert: true})
		}
		return a.unexpected(c, ctx, err)
	}

	outcome, err := a.engine.OnPartnerDecision(ctx, b.ID, c.Sender().ID, decision)
	if err != nil {
		return a.unexpected(c, ctx, err)
	}

	switch outcome {
	case booking.OutcomeApplied:
		verb := "accepted"
		if decision == booking.DecisionReject {
			verb = "rejected"
		}
		listing, _ := a.store.GetListing(ctx, b.ListingID)
		if b.PartnerMessageID != nil {
			edited := fmt.Sprintf("Booking %s: %s.", prefix, verb)
			if err := a.notifier.Edit(ctx, b.OwnerChatID, *b.PartnerMessageID, edited, nil); err != nil {
				a.logger.Warn("failed to edit owner message after decision", "booking_id", b.ID, "error", err)
			}
		}
		userMsg := fmt.Sprintf("Your booking for %q was %s by the partner.", listingTitle(listing), verb)
		if _, err := a.notifier.Send(ctx, b.UserChatID, userMsg, nil); err != nil {
			a.logger.Warn("failed to notify user of decision", "booking_id", b.ID, "error", err)
		}
		return c.Respond(&tele.CallbackResponse{Text: "Recorded."})

	case booking.OutcomeAlreadyFinalized:
		return c.Respond(&tele.CallbackResponse{Text: "This booking was already handled.", ShowAlert: true})
	case booking.OutcomeUnauthorized:
		return c.Respond(&tele.CallbackResponse{Text: "This booking isn't assigned to you.", ShowAlert: true})
	case booking.OutcomeNotFound:
		return c.Respond(&tele.CallbackResponse{Text: "Booking not found.", ShowAlert: true})
	}
	return nil
}

func listingTitle(l *store.Listing) string {
	if l == nil {
		return "this listing"
	}
	return l.Title
}

func (a *App) handleDispatchError(c tele.Context, ctx context.Context, err error) error {
	if errors.Is(err, convo.ErrNoHandler) {
		return c.Send("I didn't understand that. Use /start or /browse to begin.")
	}
	return a.unexpected(c, ctx, err)
}

func (a *App) unexpected(c tele.Context, ctx context.Context, err error) error {
	a.logger.Error("handler error", "chat_id", c.Chat().ID, "error", err)
	a.notifier.ReportError(ctx, "handler_error", err.Error(), "", a.cfg.Admins)
	return c.Send("Something went wrong on our end. Please try again, or /cancel to start over.")
}

func (a *App) reply(c tele.Context, result convo.Result) error {
	if result.Reply == "" {
		return nil
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if markup := toTeleMarkup(result.Keyboard); markup != nil {
		opts.ReplyMarkup = markup
	}
	return c.Send(result.Reply, opts)
}

func toTeleMarkup(kb *convo.Keyboard) *tele.ReplyMarkup {
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

func contactRequestMarkup() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	btn := markup.Contact("📱 Share phone number")
	markup.Reply(markup.Row(btn))
	return markup
}

func wizardCategoryMarkup() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "Hotels", Data: "wizard:category:hotel"}, {Text: "Guides", Data: "wizard:category:guide"}},
		{{Text: "Taxis", Data: "wizard:category:taxi"}, {Text: "Places", Data: "wizard:category:place"}},
	}}
}
