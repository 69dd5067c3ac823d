// Package browse implements the region/category/listing browse flow and
// its nested booking sub-flow.
package browse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/devco/tripdesk/pkg/booking"
	"github.com/devco/tripdesk/pkg/convo"
	"github.com/devco/tripdesk/pkg/dispatch"
	"github.com/devco/tripdesk/pkg/notify"
	"github.com/devco/tripdesk/pkg/phone"
	"github.com/devco/tripdesk/pkg/store"
)

const FlowID = "browse"

const (
	stateRegion       convo.State = "region"
	stateCategory     convo.State = "category"
	stateSubtype      convo.State = "subtype"
	stateCard         convo.State = "listing_card"
	stateDetail       convo.State = "listing_detail"
	stateGuestCount   convo.State = "guest_count"
	stateExtraNames   convo.State = "extra_guest_names"
	statePhoneChoice  convo.State = "phone_choice"
	statePhoneManual  convo.State = "phone_manual"
	stateDate         convo.State = "date"
	stateNote         convo.State = "note"
	stateConfirm      convo.State = "confirm"
)

const (
	ctxRegion     = "region"
	ctxCategory   = "category"
	ctxSubtype    = "subtype"
	ctxListingIDs = "listing_ids"
	ctxIndex      = "index"
	ctxListingID  = "listing_id"
	ctxGuestCount = "guest_count"
	ctxGuestNames = "guest_names"
	ctxPhone      = "phone"
	ctxDate       = "date"
	ctxNote       = "note"
)

const defaultRegion = "zomin"
const skipCommand = "/skip"

// Flow is the browse/book flow.
type Flow struct {
	store      *store.Store
	engine     *booking.Engine
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
}

// New builds the browse Flow. notifier carries listing photos, media
// groups, and shared locations directly to the chat, outside the
// text+keyboard Result the runtime persists state from.
func New(st *store.Store, engine *booking.Engine, dispatcher *dispatch.Dispatcher, notifier *notify.Notifier) *Flow {
	return &Flow{store: st, engine: engine, dispatcher: dispatcher, notifier: notifier}
}

func toNotifyKeyboard(kb *convo.Keyboard) *notify.Keyboard {
	if kb == nil {
		return nil
	}
	rows := make([][]notify.Button, len(kb.Rows))
	for i, row := range kb.Rows {
		btns := make([]notify.Button, len(row))
		for j, b := range row {
			btns[j] = notify.Button{Text: b.Text, Data: b.Data}
		}
		rows[i] = btns
	}
	return &notify.Keyboard{Rows: rows}
}

func (f *Flow) ID() string { return FlowID }

func (f *Flow) InitialState() convo.State { return stateRegion }

func (f *Flow) Handler(state convo.State, kind convo.UpdateKind) (convo.Handler, bool) {
	switch {
	case state == stateRegion && kind == convo.UpdateText:
		return f.handleRegion, true
	case state == stateCategory && kind == convo.UpdateCallback:
		return f.handleCategory, true
	case state == stateSubtype && kind == convo.UpdateCallback:
		return f.handleSubtype, true
	case state == stateCard && kind == convo.UpdateCallback:
		return f.handleCard, true
	case state == stateDetail && kind == convo.UpdateCallback:
		return f.handleDetail, true
	case state == stateGuestCount && kind == convo.UpdateText:
		return f.handleGuestCount, true
	case state == stateExtraNames && kind == convo.UpdateText:
		return f.handleExtraNames, true
	case state == statePhoneChoice && kind == convo.UpdateCallback:
		return f.handlePhoneChoice, true
	case state == statePhoneManual && kind == convo.UpdateContact:
		return f.handlePhoneManualContact, true
	case state == statePhoneManual && kind == convo.UpdateText:
		return f.handlePhoneManualText, true
	case state == stateDate && kind == convo.UpdateText:
		return f.handleDate, true
	case state == stateNote && kind == convo.UpdateText:
		return f.handleNote, true
	case state == stateConfirm && kind == convo.UpdateCallback:
		return f.handleConfirm, true
	}
	return nil, false
}

func categoryKeyboard() *convo.Keyboard {
	return &convo.Keyboard{Rows: [][]convo.Button{
		{{Text: "Hotels", Data: "browse:category:hotel"}, {Text: "Guides", Data: "browse:category:guide"}},
		{{Text: "Taxis", Data: "browse:category:taxi"}, {Text: "Places", Data: "browse:category:place"}},
	}}
}

func subtypeKeyboard() *convo.Keyboard {
	return &convo.Keyboard{Rows: [][]convo.Button{
		{{Text: "Shale", Data: "browse:subtype:shale"}, {Text: "Uy mehmonxona", Data: "browse:subtype:uy_mehmonxona"}},
		{{Text: "Mehmonxona", Data: "browse:subtype:mehmonxona"}, {Text: "Kapsula", Data: "browse:subtype:kapsula"}},
		{{Text: "Dacha", Data: "browse:subtype:dacha"}, {Text: "All types", Data: "browse:subtype:all"}},
	}}
}

func (f *Flow) handleRegion(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	region := strings.TrimSpace(upd.Text)
	if region != defaultRegion {
		return convo.Stay(fmt.Sprintf("Only %q is supported as a region right now.", defaultRegion)), nil
	}
	return convo.Advance(stateCategory, map[string]any{ctxRegion: region}).
		WithKeyboard(categoryKeyboard()), nil
}

func (f *Flow) handleCategory(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	const prefix = "browse:category:"
	if !strings.HasPrefix(upd.CallbackData, prefix) {
		return convo.Stay("Please pick a category from the menu.").WithKeyboard(categoryKeyboard()), nil
	}
	cat := store.Category(strings.TrimPrefix(upd.CallbackData, prefix))
	if !cat.Valid() {
		return convo.Stay("Unknown category.").WithKeyboard(categoryKeyboard()), nil
	}
	if cat == store.CategoryHotel {
		return convo.Advance(stateSubtype, map[string]any{ctxCategory: string(cat)}).
			WithKeyboard(subtypeKeyboard()), nil
	}
	return f.loadAndShowCard(ctx, conv.ChatID, convo.GetString(conv.Context, ctxRegion), cat, "")
}

func (f *Flow) handleSubtype(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	const prefix = "browse:subtype:"
	if !strings.HasPrefix(upd.CallbackData, prefix) {
		return convo.Stay("Please pick a type from the menu.").WithKeyboard(subtypeKeyboard()), nil
	}
	token := strings.TrimPrefix(upd.CallbackData, prefix)
	subtype := token
	if token == "all" {
		subtype = ""
	} else if !store.HotelSubtype(token).Valid() {
		return convo.Stay("Unknown type.").WithKeyboard(subtypeKeyboard()), nil
	}
	region := convo.GetString(conv.Context, ctxRegion)
	result, err := f.loadAndShowCard(ctx, conv.ChatID, region, store.CategoryHotel, subtype)
	if err != nil {
		return result, err
	}
	if result.Merge == nil {
		result.Merge = map[string]any{}
	}
	result.Merge[ctxSubtype] = subtype
	return result, nil
}

func (f *Flow) loadAndShowCard(ctx context.Context, chatID int64, region string, cat store.Category, subtype string) (convo.Result, error) {
	listings, err := f.store.ListListings(ctx, region, cat, subtype)
	if err != nil {
		return convo.Result{}, fmt.Errorf("browse: listing listings: %w", err)
	}
	if len(listings) == 0 {
		return convo.Stay("No listings found for this category yet.").WithKeyboard(categoryKeyboard()), nil
	}

	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l.ID.String()
	}

	return f.sendCard(ctx, chatID, listings[0], 0, len(listings), map[string]any{
		ctxCategory:   string(cat),
		ctxListingIDs: ids,
		ctxIndex:      0,
	})
}

// sendCard renders a listing card. A listing with a photo on file goes
// out as a photo with the card text as caption, and the result carries
// only the state merge since the chat message itself is already sent.
// Otherwise the result carries the card text and keyboard as its reply.
func (f *Flow) sendCard(ctx context.Context, chatID int64, listing store.Listing, index, total int, merge map[string]any) (convo.Result, error) {
	caption, kb := cardView(listing, index, total)
	if len(listing.Photos) > 0 {
		if _, err := f.notifier.SendPhoto(ctx, chatID, listing.Photos[0], caption, toNotifyKeyboard(kb)); err != nil {
			return convo.Result{}, fmt.Errorf("browse: sending card photo: %w", err)
		}
		return convo.Advance(stateCard, merge), nil
	}
	return convo.Advance(stateCard, merge).WithKeyboard(kb).WithReply(caption), nil
}

func cardView(l store.Listing, index, total int) (string, *convo.Keyboard) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d/%d)\n", l.Title, index+1, total)
	if l.PriceFrom != nil {
		fmt.Fprintf(&sb, "From %d %s\n", *l.PriceFrom, l.Currency)
	}
	if l.Description != "" {
		fmt.Fprintf(&sb, "%s\n", l.Description)
	}

	var nav []convo.Button
	if index > 0 {
		nav = append(nav, convo.Button{Text: "< Prev", Data: "browse:nav:prev"})
	}
	if index < total-1 {
		nav = append(nav, convo.Button{Text: "Next >", Data: "browse:nav:next"})
	}
	rows := [][]convo.Button{
		{{Text: "Pick", Data: "browse:nav:pick"}, {Text: "Back", Data: "browse:nav:back"}},
	}
	if len(nav) > 0 {
		rows = append([][]convo.Button{nav}, rows...)
	}
	return sb.String(), &convo.Keyboard{Rows: rows}
}

func (f *Flow) handleCard(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	const prefix = "browse:nav:"
	if !strings.HasPrefix(upd.CallbackData, prefix) {
		return convo.Stay("Please use the buttons below."), nil
	}
	action := strings.TrimPrefix(upd.CallbackData, prefix)
	ids := convo.GetStringSlice(conv.Context, ctxListingIDs)
	index, _ := convo.GetInt(conv.Context, ctxIndex)

	switch action {
	case "back":
		cat := convo.GetString(conv.Context, ctxCategory)
		if cat == string(store.CategoryHotel) {
			return convo.Advance(stateSubtype, nil).WithKeyboard(subtypeKeyboard()), nil
		}
		return convo.Advance(stateCategory, nil).WithKeyboard(categoryKeyboard()), nil

	case "prev":
		if index > 0 {
			index--
		}
	case "next":
		if index < len(ids)-1 {
			index++
		}
	case "pick":
		return f.showDetail(ctx, conv.ChatID, ids, index)
	default:
		return convo.Stay("Please use the buttons below."), nil
	}

	listing, err := f.loadListingAt(ctx, ids, index)
	if err != nil {
		return convo.Result{}, err
	}
	return f.sendCard(ctx, conv.ChatID, *listing, index, len(ids), map[string]any{ctxIndex: index})
}

func (f *Flow) loadListingAt(ctx context.Context, ids []string, index int) (*store.Listing, error) {
	if index < 0 || index >= len(ids) {
		return nil, fmt.Errorf("browse: index %d out of range", index)
	}
	id, err := uuid.Parse(ids[index])
	if err != nil {
		return nil, fmt.Errorf("browse: parsing listing id: %w", err)
	}
	listing, err := f.store.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("browse: loading listing: %w", err)
	}
	return listing, nil
}

// showDetail sends every photo on file for the listing (a media group
// when there's more than one) ahead of the action keyboard, per the
// detail view's media requirement.
func (f *Flow) showDetail(ctx context.Context, chatID int64, ids []string, index int) (convo.Result, error) {
	listing, err := f.loadListingAt(ctx, ids, index)
	if err != nil {
		return convo.Result{}, err
	}
	caption := detailView(*listing)

	switch len(listing.Photos) {
	case 0:
	case 1:
		if _, err := f.notifier.SendPhoto(ctx, chatID, listing.Photos[0], caption, nil); err != nil {
			return convo.Result{}, fmt.Errorf("browse: sending detail photo: %w", err)
		}
		caption = ""
	default:
		if err := f.notifier.SendMediaGroup(ctx, chatID, listing.Photos, caption); err != nil {
			return convo.Result{}, fmt.Errorf("browse: sending detail media group: %w", err)
		}
		caption = ""
	}

	kb := &convo.Keyboard{Rows: [][]convo.Button{
		{{Text: "Book", Data: "browse:detail:book"}, {Text: "Back", Data: "browse:detail:back"}},
	}}
	if listing.HasCoordinates() {
		kb.Rows[0] = append([]convo.Button{{Text: "Map", Data: "browse:detail:map"}}, kb.Rows[0]...)
	}
	reply := caption
	if reply == "" {
		reply = "Choose an action:"
	}
	return convo.Advance(stateDetail, map[string]any{ctxListingID: listing.ID.String()}).
		WithKeyboard(kb).WithReply(reply), nil
}

func detailView(l store.Listing) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", l.Title)
	if l.Description != "" {
		fmt.Fprintf(&sb, "%s\n", l.Description)
	}
	if l.PriceFrom != nil {
		fmt.Fprintf(&sb, "From %d %s\n", *l.PriceFrom, l.Currency)
	}
	if l.Phone != "" {
		fmt.Fprintf(&sb, "Contact: %s\n", l.Phone)
	}
	fmt.Fprintf(&sb, "%d photo(s) on file.\n", len(l.Photos))
	return sb.String()
}

func (f *Flow) handleDetail(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	const prefix = "browse:detail:"
	if !strings.HasPrefix(upd.CallbackData, prefix) {
		return convo.Stay("Please use the buttons below."), nil
	}
	switch strings.TrimPrefix(upd.CallbackData, prefix) {
	case "book":
		return convo.Advance(stateGuestCount, nil).WithReply("How many guests? (1-10)"), nil
	case "map":
		id, err := uuid.Parse(convo.GetString(conv.Context, ctxListingID))
		if err != nil {
			return convo.Result{}, fmt.Errorf("browse: parsing listing id: %w", err)
		}
		listing, err := f.store.GetListing(ctx, id)
		if err != nil {
			return convo.Result{}, fmt.Errorf("browse: loading listing: %w", err)
		}
		if !listing.HasCoordinates() {
			return convo.Stay("No location on file for this listing."), nil
		}
		if err := f.notifier.SendLocation(ctx, conv.ChatID, *listing.Latitude, *listing.Longitude); err != nil {
			return convo.Result{}, fmt.Errorf("browse: sending location: %w", err)
		}
		return convo.Stay(""), nil
	case "back":
		ids := convo.GetStringSlice(conv.Context, ctxListingIDs)
		index, _ := convo.GetInt(conv.Context, ctxIndex)
		listing, err := f.loadListingAt(ctx, ids, index)
		if err != nil {
			return convo.Result{}, err
		}
		return f.sendCard(ctx, conv.ChatID, *listing, index, len(ids), nil)
	}
	return convo.Stay("Please use the buttons below."), nil
}

func (f *Flow) handleGuestCount(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	count, err := strconv.Atoi(strings.TrimSpace(upd.Text))
	if err != nil || count < 1 || count > 10 {
		return convo.Stay("Please enter a number between 1 and 10."), nil
	}
	if count == 1 {
		name := registeredName(ctx, f.store, conv.ChatID)
		return f.promptPhone(ctx, conv.ChatID, map[string]any{
			ctxGuestCount: count,
			ctxGuestNames: []string{name},
		})
	}
	return convo.Advance(stateExtraNames, map[string]any{ctxGuestCount: count}).
		WithReply(fmt.Sprintf("Send %d extra guest name(s), one per line.", count-1)), nil
}

func registeredName(ctx context.Context, st *store.Store, chatID int64) string {
	u, err := st.GetUser(ctx, chatID)
	if err != nil || u == nil {
		return "Guest"
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (f *Flow) handleExtraNames(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	count, _ := convo.GetInt(conv.Context, ctxGuestCount)
	lines := strings.Split(strings.TrimSpace(upd.Text), "\n")
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	if len(names) != count-1 {
		return convo.Stay(fmt.Sprintf("Please send exactly %d name(s), one per line.", count-1)), nil
	}
	for _, n := range names {
		if len(n) < 3 || len(n) > 60 {
			return convo.Stay("Each name must be 3-60 characters."), nil
		}
	}
	own := registeredName(ctx, f.store, conv.ChatID)
	return f.promptPhone(ctx, conv.ChatID, map[string]any{
		ctxGuestNames: append([]string{own}, names...),
	})
}

func phoneChoiceKeyboard() *convo.Keyboard {
	return &convo.Keyboard{Rows: [][]convo.Button{
		{{Text: "Use saved phone", Data: "browse:phone:use_saved"}, {Text: "Enter new number", Data: "browse:phone:manual"}},
	}}
}

// promptPhone routes straight to the manual contact-share state when the
// chat has no saved phone on file, and only offers the saved-phone choice
// when there's an actual saved number to offer.
func (f *Flow) promptPhone(ctx context.Context, chatID int64, merge map[string]any) (convo.Result, error) {
	u, err := f.store.GetUser(ctx, chatID)
	if err == nil && u != nil && u.Phone != "" {
		return convo.Advance(statePhoneChoice, merge).
			WithKeyboard(phoneChoiceKeyboard()).
			WithReply("How should we reach you? Use your saved phone, or enter a new one."), nil
	}
	return convo.Advance(statePhoneManual, merge).
		WithReply("Share your contact or type a phone number."), nil
}

func (f *Flow) handlePhoneChoice(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	switch upd.CallbackData {
	case "browse:phone:use_saved":
		u, err := f.store.GetUser(ctx, conv.ChatID)
		if err != nil || u == nil || u.Phone == "" {
			return convo.Stay("No saved phone on file; please enter a new number.").
				WithKeyboard(phoneChoiceKeyboard()), nil
		}
		return convo.Advance(stateDate, map[string]any{ctxPhone: u.Phone}).
			WithReply("What date would you like? (e.g. 15-fevral)"), nil
	case "browse:phone:manual":
		return convo.Advance(statePhoneManual, nil).
			WithReply("Share your contact or type a phone number."), nil
	}
	return convo.Stay("Please use the buttons below.").WithKeyboard(phoneChoiceKeyboard()), nil
}

func (f *Flow) handlePhoneManualContact(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if upd.Contact == nil || upd.Contact.SenderChatID != upd.ChatID {
		return convo.Stay("Please share your own contact, not someone else's."), nil
	}
	normalized, err := phone.Normalize(upd.Contact.PhoneNumber)
	if err != nil {
		return convo.Stay("That phone number doesn't look valid. Please try again."), nil
	}
	return convo.Advance(stateDate, map[string]any{ctxPhone: normalized}).
		WithReply("What date would you like? (e.g. 15-fevral)"), nil
}

func (f *Flow) handlePhoneManualText(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	normalized, err := phone.Normalize(upd.Text)
	if err != nil {
		return convo.Stay("That phone number doesn't look valid. Please try again, or share your contact."), nil
	}
	return convo.Advance(stateDate, map[string]any{ctxPhone: normalized}).
		WithReply("What date would you like? (e.g. 15-fevral)"), nil
}

func (f *Flow) handleDate(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if len(upd.Text) < 3 {
		return convo.Stay("Please enter a date (at least 3 characters)."), nil
	}
	return convo.Advance(stateNote, map[string]any{ctxDate: upd.Text}).
		WithReply("Anything else to add? Send a note, or /skip."), nil
}

func (f *Flow) handleNote(_ context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	note := upd.Text
	if note == skipCommand {
		note = ""
	}
	summary := confirmSummary(conv, note)
	kb := &convo.Keyboard{Rows: [][]convo.Button{
		{{Text: "Confirm", Data: "browse:confirm:yes"}, {Text: "Cancel", Data: "browse:confirm:no"}},
	}}
	return convo.Advance(stateConfirm, map[string]any{ctxNote: note}).WithKeyboard(kb).WithReply(summary), nil
}

func confirmSummary(conv *convo.Conversation, note string) string {
	var sb strings.Builder
	sb.WriteString("Please confirm your booking:\n")
	fmt.Fprintf(&sb, "Guests: %d (%s)\n", mustInt(conv.Context, ctxGuestCount), strings.Join(convo.GetStringSlice(conv.Context, ctxGuestNames), ", "))
	fmt.Fprintf(&sb, "Phone: %s\n", convo.GetString(conv.Context, ctxPhone))
	fmt.Fprintf(&sb, "Date: %s\n", convo.GetString(conv.Context, ctxDate))
	if note != "" {
		fmt.Fprintf(&sb, "Note: %s\n", note)
	}
	return sb.String()
}

func mustInt(ctx map[string]any, key string) int {
	v, _ := convo.GetInt(ctx, key)
	return v
}

var categoryToPayloadKind = map[string]store.PayloadKind{
	string(store.CategoryHotel): store.PayloadHotel,
	string(store.CategoryTaxi):  store.PayloadTaxi,
	string(store.CategoryGuide): store.PayloadGuide,
	string(store.CategoryPlace): store.PayloadPlace,
}

func (f *Flow) handleConfirm(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if upd.CallbackData == "browse:confirm:no" {
		return convo.Clear("Booking cancelled."), nil
	}
	if upd.CallbackData != "browse:confirm:yes" {
		return convo.Stay("Please confirm or cancel."), nil
	}

	listingID, err := uuid.Parse(convo.GetString(conv.Context, ctxListingID))
	if err != nil {
		return convo.Result{}, fmt.Errorf("browse: parsing listing id: %w", err)
	}
	kind, ok := categoryToPayloadKind[convo.GetString(conv.Context, ctxCategory)]
	if !ok {
		return convo.Result{}, fmt.Errorf("browse: unknown category in context")
	}

	payload := store.BookingPayload{
		Kind:       kind,
		GuestCount: mustInt(conv.Context, ctxGuestCount),
		GuestNames: convo.GetStringSlice(conv.Context, ctxGuestNames),
		Phone:      convo.GetString(conv.Context, ctxPhone),
		Date:       convo.GetString(conv.Context, ctxDate),
		Note:       convo.GetString(conv.Context, ctxNote),
	}

	bookingID, err := f.engine.CreateBooking(ctx, listingID, conv.ChatID, payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return convo.Clear("Sorry, that listing is no longer available."), nil
		}
		return convo.Result{}, fmt.Errorf("browse: creating booking: %w", err)
	}

	if err := f.dispatcher.Dispatch(ctx, bookingID); err != nil {
		return convo.Result{}, fmt.Errorf("browse: dispatching booking: %w", err)
	}

	return convo.Clear("Your request has been sent. The partner has up to 5 minutes to respond."), nil
}
