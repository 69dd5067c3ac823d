package wizard

import (
	"context"
	"testing"

	"github.com/devco/tripdesk/pkg/convo"
	"github.com/devco/tripdesk/pkg/store"
)

// handleConfirm writes a Listing row and needs a live Store; see
// pkg/store for its coverage. These tests exercise the pure validation
// and branching logic reachable without a database.

func conv(fields map[string]any) *convo.Conversation {
	if fields == nil {
		fields = map[string]any{}
	}
	return &convo.Conversation{ChatID: 1, FlowID: FlowID, Context: fields}
}

func TestHandleCategoryBranchesHotelToHotelType(t *testing.T) {
	f := &Flow{}
	result, err := f.handleCategory(context.Background(), conv(nil), convo.Update{
		Kind: convo.UpdateCallback, CallbackData: callbackPrefix + "hotel",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateHotelType {
		t.Fatalf("expected advance to hotel_type, got %+v", result)
	}
}

func TestHandleCategorySkipsHotelTypeForOtherCategories(t *testing.T) {
	f := &Flow{}
	result, err := f.handleCategory(context.Background(), conv(nil), convo.Update{
		Kind: convo.UpdateCallback, CallbackData: callbackPrefix + "taxi",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateTitle {
		t.Fatalf("expected advance straight to title, got %+v", result)
	}
}

func TestHandleCategoryRejectsUnknownCategory(t *testing.T) {
	f := &Flow{}
	result, err := f.handleCategory(context.Background(), conv(nil), convo.Update{
		Kind: convo.UpdateCallback, CallbackData: callbackPrefix + "spaceship",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for unknown category, got %+v", result)
	}
}

func TestHandleTitleValidatesLength(t *testing.T) {
	f := &Flow{}
	result, err := f.handleTitle(context.Background(), conv(nil), convo.Update{Text: "ab"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for too-short title, got %+v", result)
	}

	result, err = f.handleTitle(context.Background(), conv(nil), convo.Update{Text: "Suffa 2400"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateDescription {
		t.Fatalf("expected advance to description, got %+v", result)
	}
}

func TestHandleDescriptionSkip(t *testing.T) {
	f := &Flow{}
	result, err := f.handleDescription(context.Background(), conv(nil), convo.Update{Text: skipCommand})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.Merge[ctxDescription] != "" {
		t.Fatalf("expected advance with empty description, got %+v", result)
	}
}

func TestHandleRegionRejectsUnknownRegion(t *testing.T) {
	f := &Flow{}
	result, err := f.handleRegion(context.Background(), conv(nil), convo.Update{Text: "tashkent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for unsupported region, got %+v", result)
	}
}

func TestHandleRegionBranchesOnCategory(t *testing.T) {
	f := &Flow{}

	result, err := f.handleRegion(context.Background(), conv(map[string]any{ctxCategory: string(store.CategoryHotel)}), convo.Update{Text: defaultRegion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AdvanceTo != statePrice {
		t.Fatalf("expected hotel to prompt for price, got %+v", result)
	}

	result, err = f.handleRegion(context.Background(), conv(map[string]any{ctxCategory: string(store.CategoryGuide)}), convo.Update{Text: defaultRegion})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AdvanceTo != statePhone {
		t.Fatalf("expected guide to skip straight to phone, got %+v", result)
	}
}

func TestHandlePriceValidatesNonNegativeInteger(t *testing.T) {
	f := &Flow{}

	result, err := f.handlePrice(context.Background(), conv(nil), convo.Update{Text: "not-a-number"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for non-numeric price, got %+v", result)
	}

	result, err = f.handlePrice(context.Background(), conv(nil), convo.Update{Text: "-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay for negative price, got %+v", result)
	}

	result, err = f.handlePrice(context.Background(), conv(nil), convo.Update{Text: skipCommand})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != statePhone {
		t.Fatalf("expected skip to advance to phone, got %+v", result)
	}

	result, err = f.handlePrice(context.Background(), conv(nil), convo.Update{Text: "450000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.Merge[ctxPrice] != int64(450000) {
		t.Fatalf("expected parsed price in merge, got %+v", result)
	}
}

func TestHandleLocationSkipRejectedWhenRequired(t *testing.T) {
	f := &Flow{}
	result, err := f.handleLocationSkip(context.Background(), conv(map[string]any{ctxCategory: string(store.CategoryHotel)}), convo.Update{Text: skipCommand})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected location skip to be rejected for hotel category, got %+v", result)
	}
}

func TestHandleLocationSkipAllowedForOtherCategories(t *testing.T) {
	f := &Flow{}
	result, err := f.handleLocationSkip(context.Background(), conv(map[string]any{ctxCategory: string(store.CategoryGuide)}), convo.Update{Text: skipCommand})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != statePhotos {
		t.Fatalf("expected advance to photos, got %+v", result)
	}
}

func TestHandlePhotoAddCapsAtFive(t *testing.T) {
	f := &Flow{}
	existing := []string{"p1", "p2", "p3", "p4", "p5"}
	result, err := f.handlePhotoAdd(context.Background(), conv(map[string]any{ctxPhotos: existing}), convo.Update{PhotoID: "p6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay once max photos reached, got %+v", result)
	}
}

func TestHandlePhotosDoneRequiresAtLeastOnePhotoWhenRequired(t *testing.T) {
	f := &Flow{}
	result, err := f.handlePhotosDone(context.Background(), conv(map[string]any{ctxCategory: string(store.CategoryPlace)}), convo.Update{Text: doneCommand})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultStay {
		t.Fatalf("expected stay with zero photos on a place listing, got %+v", result)
	}

	result, err = f.handlePhotosDone(context.Background(), conv(map[string]any{
		ctxCategory: string(store.CategoryPlace),
		ctxPhotos:   []string{"p1"},
	}), convo.Update{Text: doneCommand})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != convo.ResultAdvance || result.AdvanceTo != stateConfirm {
		t.Fatalf("expected advance to confirm with one photo, got %+v", result)
	}
}

func TestBuildListingFromContext(t *testing.T) {
	c := conv(map[string]any{
		ctxRegion:      "zomin",
		ctxCategory:    string(store.CategoryHotel),
		ctxSubtype:     string(store.SubtypeMehmonxona),
		ctxTitle:       "Suffa 2400",
		ctxDescription: "cozy place",
		ctxPrice:       int64(450000),
		ctxLatitude:    41.378889,
		ctxLongitude:   60.363889,
		ctxPhotos:      []string{"photo1"},
	})

	listing := buildListing(c)
	if listing.Title != "Suffa 2400" || listing.Category != store.CategoryHotel {
		t.Fatalf("unexpected listing built: %+v", listing)
	}
	if listing.Subtype == nil || *listing.Subtype != string(store.SubtypeMehmonxona) {
		t.Fatalf("expected subtype to be set, got %+v", listing.Subtype)
	}
	if listing.PriceFrom == nil || *listing.PriceFrom != 450000 {
		t.Fatalf("expected price to be set, got %+v", listing.PriceFrom)
	}
	if !listing.HasCoordinates() {
		t.Fatalf("expected coordinates to be set")
	}
	if len(listing.Photos) != 1 {
		t.Fatalf("expected one photo, got %+v", listing.Photos)
	}
}
