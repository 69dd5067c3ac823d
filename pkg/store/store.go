// Package store is the sole owner of writes to the three persistent
// entities (users, listings, bookings). Every status-changing booking
// write is a single guarded UPDATE; see the transition methods below.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx's connection/pool/tx interface the Store
// needs. Accepting it instead of a concrete *pgxpool.Pool lets tests
// substitute a fake without a live database.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// commandTimeout bounds every Store call per §4.A/§5.
const commandTimeout = 30 * time.Second

// bookingTTL is the window between creation/dispatch and timeout.
const bookingTTL = 5 * time.Minute

// ErrDBUnavailable wraps a connection-level failure (pool exhausted,
// disconnect) that callers must surface to the actor rather than retry
// silently.
var ErrDBUnavailable = errors.New("store: database unavailable")

// Store exposes a typed API over a Postgres connection pool.
type Store struct {
	db DBTX
}

// New wraps a pgxpool.Pool (or any DBTX, for tests) as a Store.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// NewPool wraps an existing connection pool as a Store; callers
// typically get the pool (sized 2-10 connections) from
// internal/platform.NewPostgresPool and pass it here.
func NewPool(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, commandTimeout)
}

func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrDBUnavailable, op, err)
}

// --- Users ---

// UpsertUser writes a User row, creating it on first registration and
// updating phone/name on re-registration (idempotent over chat_id).
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO users (chat_id, phone, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (chat_id) DO UPDATE SET
			phone = EXCLUDED.phone,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = now()
	`, u.ChatID, u.Phone, u.FirstName, u.LastName)
	return wrapDBErr("upsert user", err)
}

// GetUser returns the user for chatID, or pgx.ErrNoRows if unregistered.
func (s *Store) GetUser(ctx context.Context, chatID int64) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var u User
	err := s.db.QueryRow(ctx, `
		SELECT chat_id, phone, first_name, last_name, created_at, updated_at
		FROM users WHERE chat_id = $1
	`, chatID).Scan(&u.ChatID, &u.Phone, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, wrapDBErr("get user", err)
	}
	return &u, nil
}

// --- Listings ---

// CreateListing inserts a new listing, returning its generated id.
func (s *Store) CreateListing(ctx context.Context, l Listing) (uuid.UUID, error) {
	if err := l.Validate(); err != nil {
		return uuid.Nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO listings
			(region, category, subtype, title, description, price_from, currency,
			 phone, owner_chat_id, latitude, longitude, address, photos, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		RETURNING id
	`, l.Region, string(l.Category), l.Subtype, l.Title, l.Description, l.PriceFrom, l.Currency,
		l.Phone, l.OwnerChatID, l.Latitude, l.Longitude, l.Address, photosJSON(l.Photos), l.IsActive,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, wrapDBErr("create listing", err)
	}
	return id, nil
}

// GetListing loads one listing by id.
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRow(ctx, `
		SELECT id, region, category, subtype, title, description, price_from, currency,
		       phone, owner_chat_id, latitude, longitude, address, photos, is_active, created_at
		FROM listings WHERE id = $1
	`, id)
	return scanListing(row)
}

// ListListings filters by (region, category, subtype, is_active=true), ordered
// by created_at DESC, for the browse flow's card view. subtype may be empty
// to match any subtype.
func (s *Store) ListListings(ctx context.Context, region string, category Category, subtype string) ([]Listing, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rows pgx.Rows
	var err error
	if subtype == "" {
		rows, err = s.db.Query(ctx, `
			SELECT id, region, category, subtype, title, description, price_from, currency,
			       phone, owner_chat_id, latitude, longitude, address, photos, is_active, created_at
			FROM listings
			WHERE region = $1 AND category = $2 AND is_active = true
			ORDER BY created_at DESC
		`, region, string(category))
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, region, category, subtype, title, description, price_from, currency,
			       phone, owner_chat_id, latitude, longitude, address, photos, is_active, created_at
			FROM listings
			WHERE region = $1 AND category = $2 AND subtype = $3 AND is_active = true
			ORDER BY created_at DESC
		`, region, string(category), subtype)
	}
	if err != nil {
		return nil, wrapDBErr("list listings", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, wrapDBErr("scan listing", err)
		}
		out = append(out, *l)
	}
	return out, wrapDBErr("list listings", rows.Err())
}

// ListingsByOwner returns every listing owned by ownerChatID, including
// inactive ones, for the owner-facing /my_listings command.
func (s *Store) ListingsByOwner(ctx context.Context, ownerChatID int64) ([]Listing, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT id, region, category, subtype, title, description, price_from, currency,
		       phone, owner_chat_id, latitude, longitude, address, photos, is_active, created_at
		FROM listings WHERE owner_chat_id = $1
		ORDER BY created_at DESC
	`, ownerChatID)
	if err != nil {
		return nil, wrapDBErr("listings by owner", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, wrapDBErr("scan listing", err)
		}
		out = append(out, *l)
	}
	return out, wrapDBErr("listings by owner", rows.Err())
}

// SetListingActive toggles is_active for a listing owned by ownerChatID.
func (s *Store) SetListingActive(ctx context.Context, id uuid.UUID, ownerChatID int64, active bool) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE listings SET is_active = $1 WHERE id = $2 AND owner_chat_id = $3
	`, active, id, ownerChatID)
	if err != nil {
		return false, wrapDBErr("set listing active", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteListing hard-deletes a listing owned by ownerChatID, cascading to
// its bookings.
func (s *Store) DeleteListing(ctx context.Context, id uuid.UUID, ownerChatID int64) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		DELETE FROM listings WHERE id = $1 AND owner_chat_id = $2
	`, id, ownerChatID)
	if err != nil {
		return false, wrapDBErr("delete listing", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	var category string
	var photos []byte
	if err := row.Scan(&l.ID, &l.Region, &category, &l.Subtype, &l.Title, &l.Description,
		&l.PriceFrom, &l.Currency, &l.Phone, &l.OwnerChatID, &l.Latitude, &l.Longitude,
		&l.Address, &photos, &l.IsActive, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Category = Category(category)
	l.Photos = unmarshalPhotos(photos)
	return &l, nil
}

// --- Bookings ---

// CreateBooking inserts a new booking in pending_partner with
// expires_at = now + 5 min, copying owner_chat_id from the listing.
func (s *Store) CreateBooking(ctx context.Context, listingID uuid.UUID, userChatID, ownerChatID int64, payload BookingPayload) (uuid.UUID, error) {
	if err := payload.Validate(); err != nil {
		return uuid.Nil, err
	}
	raw, err := payload.MarshalForStorage()
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: marshal payload: %w", err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var id uuid.UUID
	err = s.db.QueryRow(ctx, `
		INSERT INTO bookings (listing_id, user_chat_id, owner_chat_id, payload, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, now(), now() + interval '5 minutes')
		RETURNING id
	`, listingID, userChatID, ownerChatID, raw, string(StatusPendingPartner),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, wrapDBErr("create booking", err)
	}
	return id, nil
}

// GetBooking loads one booking by id.
func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRow(ctx, `
		SELECT id, listing_id, user_chat_id, owner_chat_id, payload, status,
		       created_at, dispatched_at, expires_at, partner_message_id
		FROM bookings WHERE id = $1
	`, id)
	return scanBooking(row)
}

// GetBookingByPrefix resolves a booking by the first 8 characters of its
// id, the form carried in callback data per §4.C.
func (s *Store) GetBookingByPrefix(ctx context.Context, prefix string) (*Booking, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRow(ctx, `
		SELECT id, listing_id, user_chat_id, owner_chat_id, payload, status,
		       created_at, dispatched_at, expires_at, partner_message_id
		FROM bookings WHERE id::text LIKE $1 || '%'
		LIMIT 1
	`, prefix)
	return scanBooking(row)
}

// BookingsByUser returns a user's booking history, most recent first, for
// the /my_listings-adjacent history surfaces.
func (s *Store) BookingsByUser(ctx context.Context, userChatID int64) ([]Booking, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT id, listing_id, user_chat_id, owner_chat_id, payload, status,
		       created_at, dispatched_at, expires_at, partner_message_id
		FROM bookings WHERE user_chat_id = $1
		ORDER BY created_at DESC
	`, userChatID)
	if err != nil {
		return nil, wrapDBErr("bookings by user", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapDBErr("scan booking", err)
		}
		out = append(out, *b)
	}
	return out, wrapDBErr("bookings by user", rows.Err())
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status string
	var raw []byte
	if err := row.Scan(&b.ID, &b.ListingID, &b.UserChatID, &b.OwnerChatID, &raw, &status,
		&b.CreatedAt, &b.DispatchedAt, &b.ExpiresAt, &b.PartnerMessageID); err != nil {
		return nil, err
	}
	b.Status = BookingStatus(status)
	payload, err := UnmarshalPayload(raw)
	if err != nil {
		return nil, err
	}
	b.Payload = *payload
	return &b, nil
}

// --- Atomic transitions (§4.A / §5) ---
//
// Every transition below is a single guarded UPDATE whose WHERE clause
// encodes the full precondition for the change. None of them read-then-
// write; the database itself resolves the race.

// MarkDispatched transitions pending_partner -> sent and records the
// transport message id, coalescing so a duplicate dispatch on a
// crashed-then-restarted worker never overwrites an earlier id.
// Returns whether the row was updated.
func (s *Store) MarkDispatched(ctx context.Context, bookingID uuid.UUID, partnerMessageID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET status = $1, dispatched_at = now(), partner_message_id = COALESCE(partner_message_id, $2)
		WHERE id = $3 AND status = $4
	`, string(StatusSent), partnerMessageID, bookingID, string(StatusPendingPartner))
	if err != nil {
		return false, wrapDBErr("mark dispatched", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Accept transitions a booking to accepted, guarded by both the expected
// status set and the acting owner's identity so the check and the update
// are one atomic statement.
func (s *Store) Accept(ctx context.Context, bookingID uuid.UUID, ownerChatID int64) (bool, error) {
	return s.finalize(ctx, bookingID, ownerChatID, StatusAccepted)
}

// Reject transitions a booking to rejected under the same guard as Accept.
func (s *Store) Reject(ctx context.Context, bookingID uuid.UUID, ownerChatID int64) (bool, error) {
	return s.finalize(ctx, bookingID, ownerChatID, StatusRejected)
}

func (s *Store) finalize(ctx context.Context, bookingID uuid.UUID, ownerChatID int64, status BookingStatus) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET status = $1
		WHERE id = $2
		  AND status IN ($3, $4)
		  AND owner_chat_id = $5
	`, string(status), bookingID, string(StatusPendingPartner), string(StatusSent), ownerChatID)
	if err != nil {
		return false, wrapDBErr("finalize booking", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SweepExpired atomically times out every booking whose deadline has
// passed and returns the rows it changed, joined with listing/owner
// details for notification fan-out. Under READ COMMITTED, the UPDATE's
// row-level locking guarantees each expired row is returned by exactly
// one concurrent sweep.
func (s *Store) SweepExpired(ctx context.Context) ([]ExpiredRow, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		WITH expired AS (
			UPDATE bookings SET status = $1
			WHERE status IN ($2, $3)
			  AND COALESCE(dispatched_at, created_at) + interval '5 minutes' < now()
			RETURNING id, user_chat_id, owner_chat_id, listing_id
		)
		SELECT e.id, e.user_chat_id, e.owner_chat_id, e.listing_id,
		       l.title, u.phone, u.first_name, u.last_name
		FROM expired e
		LEFT JOIN listings l ON e.listing_id = l.id
		LEFT JOIN users u ON e.owner_chat_id = u.chat_id
	`, string(StatusTimeout), string(StatusPendingPartner), string(StatusSent))
	if err != nil {
		return nil, wrapDBErr("sweep expired", err)
	}
	defer rows.Close()

	var out []ExpiredRow
	for rows.Next() {
		var r ExpiredRow
		if err := rows.Scan(&r.BookingID, &r.UserChatID, &r.OwnerChatID, &r.ListingID,
			&r.ListingTitle, &r.OwnerPhone, &r.OwnerFirst, &r.OwnerLast); err != nil {
			return nil, wrapDBErr("scan expired row", err)
		}
		out = append(out, r)
	}
	return out, wrapDBErr("sweep expired", rows.Err())
}

func photosJSON(photos []string) []byte {
	if photos == nil {
		photos = []string{}
	}
	b, _ := json.Marshal(photos)
	return b
}

func unmarshalPhotos(raw []byte) []string {
	var photos []string
	if len(raw) == 0 {
		return photos
	}
	_ = json.Unmarshal(raw, &photos)
	return photos
}
