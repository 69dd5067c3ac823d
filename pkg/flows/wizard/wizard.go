// Package wizard implements the owner-facing add-listing flow, gated to
// the configured admin set by the caller that starts it.
package wizard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/devco/tripdesk/pkg/convo"
	"github.com/devco/tripdesk/pkg/store"
)

const FlowID = "wizard"

const (
	stateCategory    convo.State = "category"
	stateHotelType   convo.State = "hotel_type"
	stateTitle       convo.State = "title"
	stateDescription convo.State = "description"
	stateRegion      convo.State = "region"
	statePrice       convo.State = "price"
	statePhone       convo.State = "phone"
	stateLocation    convo.State = "location"
	statePhotos      convo.State = "photos"
	stateConfirm     convo.State = "confirm"
)

const (
	ctxCategory    = "category"
	ctxSubtype     = "subtype"
	ctxTitle       = "title"
	ctxDescription = "description"
	ctxRegion      = "region"
	ctxPrice       = "price_from"
	ctxPhone       = "phone"
	ctxLatitude    = "latitude"
	ctxLongitude   = "longitude"
	ctxPhotos      = "photos"
)

const (
	callbackPrefix        = "wizard:category:"
	subtypeCallbackPrefix = "wizard:subtype:"
	confirmCallback       = "wizard:confirm"
	cancelCallback        = "wizard:cancel"
	skipCommand           = "/skip"
	doneCommand           = "/done"
)

const defaultRegion = "zomin"

// Flow is the add-listing wizard.
type Flow struct {
	store *store.Store
}

// New builds the wizard Flow.
func New(st *store.Store) *Flow {
	return &Flow{store: st}
}

func (f *Flow) ID() string { return FlowID }

func (f *Flow) InitialState() convo.State { return stateCategory }

func (f *Flow) Handler(state convo.State, kind convo.UpdateKind) (convo.Handler, bool) {
	switch {
	case state == stateCategory && kind == convo.UpdateCallback:
		return f.handleCategory, true
	case state == stateHotelType && kind == convo.UpdateCallback:
		return f.handleHotelType, true
	case state == stateTitle && kind == convo.UpdateText:
		return f.handleTitle, true
	case state == stateDescription && kind == convo.UpdateText:
		return f.handleDescription, true
	case state == stateRegion && kind == convo.UpdateText:
		return f.handleRegion, true
	case state == statePrice && kind == convo.UpdateText:
		return f.handlePrice, true
	case state == statePhone && kind == convo.UpdateText:
		return f.handlePhone, true
	case state == stateLocation && kind == convo.UpdateLocation:
		return f.handleLocation, true
	case state == stateLocation && kind == convo.UpdateText:
		return f.handleLocationSkip, true
	case state == statePhotos && kind == convo.UpdatePhoto:
		return f.handlePhotoAdd, true
	case state == statePhotos && kind == convo.UpdateText:
		return f.handlePhotosDone, true
	case state == stateConfirm && kind == convo.UpdateCallback:
		return f.handleConfirm, true
	}
	return nil, false
}

func subtypeKeyboard() *convo.Keyboard {
	return &convo.Keyboard{Rows: [][]convo.Button{
		{{Text: "Shale", Data: subtypeCallbackPrefix + "shale"}, {Text: "Uy mehmonxona", Data: subtypeCallbackPrefix + "uy_mehmonxona"}},
		{{Text: "Mehmonxona", Data: subtypeCallbackPrefix + "mehmonxona"}, {Text: "Kapsula", Data: subtypeCallbackPrefix + "kapsula"}},
		{{Text: "Dacha", Data: subtypeCallbackPrefix + "dacha"}},
	}}
}

func confirmKeyboard() *convo.Keyboard {
	return &convo.Keyboard{Rows: [][]convo.Button{
		{{Text: "Confirm", Data: confirmCallback}, {Text: "Cancel", Data: cancelCallback}},
	}}
}

func (f *Flow) handleCategory(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if !strings.HasPrefix(upd.CallbackData, callbackPrefix) {
		return convo.Stay("Please pick a category from the menu."), nil
	}
	cat := store.Category(strings.TrimPrefix(upd.CallbackData, callbackPrefix))
	if !cat.Valid() {
		return convo.Stay("Unknown category."), nil
	}
	if cat == store.CategoryHotel {
		return convo.Advance(stateHotelType, map[string]any{ctxCategory: string(cat)}).
			WithKeyboard(subtypeKeyboard()).
			WithReply("Pick a hotel type:"), nil
	}
	return convo.Advance(stateTitle, map[string]any{ctxCategory: string(cat)}).
		WithReply("What's the listing title? (at least 3 characters)"), nil
}

func (f *Flow) handleHotelType(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if !strings.HasPrefix(upd.CallbackData, subtypeCallbackPrefix) {
		return convo.Stay("Please pick a hotel type from the menu.").WithKeyboard(subtypeKeyboard()), nil
	}
	subtype := store.HotelSubtype(strings.TrimPrefix(upd.CallbackData, subtypeCallbackPrefix))
	if !subtype.Valid() {
		return convo.Stay("Unknown hotel type.").WithKeyboard(subtypeKeyboard()), nil
	}
	return convo.Advance(stateTitle, map[string]any{ctxSubtype: string(subtype)}).
		WithReply("What's the listing title? (at least 3 characters)"), nil
}

func (f *Flow) handleTitle(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if len(upd.Text) < 3 {
		return convo.Stay("Title must be at least 3 characters."), nil
	}
	return convo.Advance(stateDescription, map[string]any{ctxTitle: upd.Text}).
		WithReply("Add a description, or /skip."), nil
}

func (f *Flow) handleDescription(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	description := upd.Text
	if description == skipCommand {
		description = ""
	}
	return convo.Advance(stateRegion, map[string]any{ctxDescription: description}).
		WithReply(fmt.Sprintf("Which region? Only %q is supported right now.", defaultRegion)), nil
}

func (f *Flow) handleRegion(_ context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	region := strings.TrimSpace(upd.Text)
	if region != defaultRegion {
		return convo.Stay(fmt.Sprintf("Only %q is supported as a region right now.", defaultRegion)), nil
	}
	category := convo.GetString(conv.Context, ctxCategory)
	next := nextAfterRegion(category)
	reply := "Phone number for this listing? (optional, or /skip)"
	if next == statePrice {
		reply = "Starting price? (non-negative whole number, or /skip)"
	}
	return convo.Advance(next, map[string]any{ctxRegion: region}).WithReply(reply), nil
}

// nextAfterRegion branches on the category collected earlier in the
// wizard: hotel and taxi listings prompt for a starting price, the
// rest skip straight to the optional phone step.
func nextAfterRegion(category string) convo.State {
	if category == string(store.CategoryHotel) || category == string(store.CategoryTaxi) {
		return statePrice
	}
	return statePhone
}

func (f *Flow) handlePrice(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	const reply = "Phone number for this listing? (optional, or /skip)"
	if upd.Text == skipCommand {
		return convo.Advance(statePhone, nil).WithReply(reply), nil
	}
	price, err := strconv.ParseInt(strings.TrimSpace(upd.Text), 10, 64)
	if err != nil || price < 0 {
		return convo.Stay("Please enter a non-negative whole number, or /skip."), nil
	}
	return convo.Advance(statePhone, map[string]any{ctxPrice: price}).WithReply(reply), nil
}

func (f *Flow) handlePhone(_ context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	var merge map[string]any
	if upd.Text != skipCommand {
		merge = map[string]any{ctxPhone: upd.Text}
	}
	return convo.Advance(stateLocation, merge).WithReply(locationPrompt(convo.GetString(conv.Context, ctxCategory))), nil
}

func requiresLocation(category string) bool {
	return category == string(store.CategoryHotel) || category == string(store.CategoryPlace)
}

func locationPrompt(category string) string {
	if requiresLocation(category) {
		return "Share a location for this listing (required)."
	}
	return "Share a location for this listing, or /skip."
}

func (f *Flow) handleLocation(_ context.Context, _ *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if upd.Location == nil {
		return convo.Stay("Please share a location."), nil
	}
	return convo.Advance(statePhotos, map[string]any{
		ctxLatitude:  upd.Location.Latitude,
		ctxLongitude: upd.Location.Longitude,
	}).WithReply("Send up to 5 photos, then /done."), nil
}

func (f *Flow) handleLocationSkip(_ context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	category := convo.GetString(conv.Context, ctxCategory)
	if requiresLocation(category) {
		return convo.Stay("A location is required for this category; please share one."), nil
	}
	if upd.Text != skipCommand {
		return convo.Stay("Please share a location, or /skip."), nil
	}
	return convo.Advance(statePhotos, nil).WithReply("Send up to 5 photos, then /done."), nil
}

const maxPhotos = 5

func (f *Flow) handlePhotoAdd(_ context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	photos := convo.GetStringSlice(conv.Context, ctxPhotos)
	if len(photos) >= maxPhotos {
		return convo.Stay("Maximum of 5 photos reached. Send /done to finish."), nil
	}
	photos = append(photos, upd.PhotoID)
	return convo.Advance(statePhotos, map[string]any{ctxPhotos: photos}).
		WithReply(fmt.Sprintf("Photo added (%d/%d). Send another, or /done to finish.", len(photos), maxPhotos)), nil
}

func (f *Flow) handlePhotosDone(_ context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if upd.Text != doneCommand {
		return convo.Stay("Send a photo, or /done to finish."), nil
	}
	category := convo.GetString(conv.Context, ctxCategory)
	photos := convo.GetStringSlice(conv.Context, ctxPhotos)
	if (category == string(store.CategoryHotel) || category == string(store.CategoryPlace)) && len(photos) < 1 {
		return convo.Stay("At least one photo is required for this category."), nil
	}
	return convo.Advance(stateConfirm, nil).
		WithKeyboard(confirmKeyboard()).
		WithReply(confirmSummary(conv)), nil
}

func confirmSummary(conv *convo.Conversation) string {
	l := buildListing(conv)
	var sb strings.Builder
	sb.WriteString("Please confirm this listing:\n")
	fmt.Fprintf(&sb, "Category: %s\n", l.Category)
	if l.Subtype != nil {
		fmt.Fprintf(&sb, "Type: %s\n", *l.Subtype)
	}
	fmt.Fprintf(&sb, "Title: %s\n", l.Title)
	if l.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", l.Description)
	}
	fmt.Fprintf(&sb, "Region: %s\n", l.Region)
	if l.PriceFrom != nil {
		fmt.Fprintf(&sb, "Price from: %d %s\n", *l.PriceFrom, l.Currency)
	}
	if l.Phone != "" {
		fmt.Fprintf(&sb, "Phone: %s\n", l.Phone)
	}
	fmt.Fprintf(&sb, "Photos: %d\n", len(l.Photos))
	return sb.String()
}

func (f *Flow) handleConfirm(ctx context.Context, conv *convo.Conversation, upd convo.Update) (convo.Result, error) {
	if upd.CallbackData == cancelCallback {
		return convo.Clear("Listing cancelled."), nil
	}
	if upd.CallbackData != confirmCallback {
		return convo.Stay("Please confirm or cancel.").WithKeyboard(confirmKeyboard()), nil
	}

	listing := buildListing(conv)
	listing.OwnerChatID = conv.ChatID
	listing.IsActive = true

	id, err := f.store.CreateListing(ctx, listing)
	if err != nil {
		return convo.Result{}, fmt.Errorf("wizard: saving listing: %w", err)
	}

	return convo.Clear(fmt.Sprintf("Listing saved: %s", id)), nil
}

func buildListing(conv *convo.Conversation) store.Listing {
	l := store.Listing{
		Region:      convo.GetString(conv.Context, ctxRegion),
		Category:    store.Category(convo.GetString(conv.Context, ctxCategory)),
		Title:       convo.GetString(conv.Context, ctxTitle),
		Description: convo.GetString(conv.Context, ctxDescription),
		Phone:       convo.GetString(conv.Context, ctxPhone),
		Currency:    "UZS",
		Photos:      convo.GetStringSlice(conv.Context, ctxPhotos),
	}
	if subtype := convo.GetString(conv.Context, ctxSubtype); subtype != "" {
		l.Subtype = &subtype
	}
	if price, ok := convo.GetInt(conv.Context, ctxPrice); ok {
		p := int64(price)
		l.PriceFrom = &p
	}
	if lat, ok := convo.GetFloat64(conv.Context, ctxLatitude); ok {
		l.Latitude = &lat
	}
	if lng, ok := convo.GetFloat64(conv.Context, ctxLongitude); ok {
		l.Longitude = &lng
	}
	return l
}
