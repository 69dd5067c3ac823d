package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category is a listing's top-level offering type.
type Category string

const (
	CategoryHotel Category = "hotel"
	CategoryGuide Category = "guide"
	CategoryTaxi  Category = "taxi"
	CategoryPlace Category = "place"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryHotel, CategoryGuide, CategoryTaxi, CategoryPlace:
		return true
	}
	return false
}

// HotelSubtype enumerates the lodging subtypes a hotel-category listing
// may declare.
type HotelSubtype string

const (
	SubtypeShale         HotelSubtype = "shale"
	SubtypeUyMehmonxona  HotelSubtype = "uy_mehmonxona"
	SubtypeMehmonxona    HotelSubtype = "mehmonxona"
	SubtypeKapsula       HotelSubtype = "kapsula"
	SubtypeDacha         HotelSubtype = "dacha"
)

func (s HotelSubtype) Valid() bool {
	switch s {
	case SubtypeShale, SubtypeUyMehmonxona, SubtypeMehmonxona, SubtypeKapsula, SubtypeDacha:
		return true
	}
	return false
}

// BookingStatus is the finite set of states a Booking may occupy.
type BookingStatus string

const (
	StatusPendingPartner BookingStatus = "pending_partner"
	StatusSent           BookingStatus = "sent"
	StatusAccepted       BookingStatus = "accepted"
	StatusRejected       BookingStatus = "rejected"
	StatusTimeout        BookingStatus = "timeout"
)

// Terminal reports whether s is one of the absorbing terminal states.
func (s BookingStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusTimeout:
		return true
	}
	return false
}

// User is one record per chat identity that completed registration.
type User struct {
	ChatID    int64
	Phone     string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Listing is an offer published by an owner.
type Listing struct {
	ID          uuid.UUID
	Region      string
	Category    Category
	Subtype     *string
	Title       string
	Description string
	PriceFrom   *int64
	Currency    string
	Phone       string
	OwnerChatID int64
	Latitude    *float64
	Longitude   *float64
	Address     string
	Photos      []string
	IsActive    bool
	CreatedAt   time.Time
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Listing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Validate checks the invariants of §3: coordinates+photo requirements for
// hotel/place categories, title length, and photo count bound.
func (l *Listing) Validate() error {
	if !l.Category.Valid() {
		return fmt.Errorf("%w: category %q", ErrValidation, l.Category)
	}
	if len(l.Title) < 3 {
		return fmt.Errorf("%w: title must be at least 3 characters", ErrValidation)
	}
	if len(l.Photos) > 5 {
		return fmt.Errorf("%w: at most 5 photos allowed", ErrValidation)
	}
	if l.Category == CategoryHotel || l.Category == CategoryPlace {
		if !l.HasCoordinates() {
			return fmt.Errorf("%w: %s listings require coordinates", ErrValidation, l.Category)
		}
		if len(l.Photos) < 1 {
			return fmt.Errorf("%w: %s listings require at least one photo", ErrValidation, l.Category)
		}
	}
	return nil
}

// PayloadKind tags a BookingPayload with the category it was collected
// under, preserving the original duck-typed dict's shape distinction as a
// validated sum type instead of an untyped map.
type PayloadKind string

const (
	PayloadHotel PayloadKind = "hotel"
	PayloadTaxi  PayloadKind = "taxi"
	PayloadGuide PayloadKind = "guide"
	PayloadPlace PayloadKind = "place"
)

// BookingPayload is the structured request a user assembles in the browse
// flow's booking sub-flow. Every category shares the same field set; Kind
// is retained so a future category-specific field can be added without a
// storage migration.
type BookingPayload struct {
	Kind       PayloadKind `json:"kind"`
	GuestCount int         `json:"guest_count"`
	GuestNames []string    `json:"guest_names"`
	Phone      string      `json:"phone"`
	Date       string      `json:"date"`
	Note       string      `json:"note,omitempty"`
}

// ErrValidation marks an input that failed a domain invariant.
var ErrValidation = errors.New("store: validation failed")

// Validate checks the boundary rules of §3 and §8: guest count 1..10,
// exactly guest_count guest names, each name 3..60 chars, and a date of
// at least 3 characters. The phone field is not checked here.
func (p *BookingPayload) Validate() error {
	if p.GuestCount < 1 || p.GuestCount > 10 {
		return fmt.Errorf("%w: guest_count must be 1..10", ErrValidation)
	}
	if len(p.GuestNames) != p.GuestCount {
		return fmt.Errorf("%w: guest_names must have exactly guest_count entries", ErrValidation)
	}
	for _, n := range p.GuestNames {
		if len(n) < 3 || len(n) > 60 {
			return fmt.Errorf("%w: guest name out of bounds", ErrValidation)
		}
	}
	if len(p.Date) < 3 {
		return fmt.Errorf("%w: date must be at least 3 characters", ErrValidation)
	}
	return nil
}

// MarshalForStorage serializes the payload as the JSON stored in
// bookings.payload.
func (p *BookingPayload) MarshalForStorage() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload parses stored JSON back into a BookingPayload and
// validates the tag matches a known kind.
func UnmarshalPayload(raw []byte) (*BookingPayload, error) {
	var p BookingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: unmarshal payload: %w", err)
	}
	switch p.Kind {
	case PayloadHotel, PayloadTaxi, PayloadGuide, PayloadPlace:
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %q", ErrValidation, p.Kind)
	}
	return &p, nil
}

// Booking is a user's request against one listing.
type Booking struct {
	ID                uuid.UUID
	ListingID         uuid.UUID
	UserChatID        int64
	OwnerChatID       int64
	Payload           BookingPayload
	Status            BookingStatus
	CreatedAt         time.Time
	DispatchedAt      *time.Time
	ExpiresAt         *time.Time
	PartnerMessageID  *string
}

// ExpiredRow is one row returned by sweep_expired(): the booking plus the
// joined listing title and owner contact details needed to compose
// notifications without a second round trip.
type ExpiredRow struct {
	BookingID     uuid.UUID
	UserChatID    int64
	OwnerChatID   int64
	ListingID     uuid.UUID
	ListingTitle  *string
	OwnerPhone    *string
	OwnerFirst    *string
	OwnerLast     *string
}
