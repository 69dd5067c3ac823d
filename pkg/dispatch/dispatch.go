// Package dispatch pushes a pending booking to its owner over the chat
// transport and marks it dispatched atomically, escalating to admins on
// any failure to reach the owner.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/devco/tripdesk/internal/audit"
	"github.com/devco/tripdesk/internal/telemetry"
	"github.com/devco/tripdesk/pkg/notify"
	"github.com/devco/tripdesk/pkg/store"
)

// Dispatcher owns the pending-booking -> sent transition's side effect
// (sending the owner prompt) and its escalation paths. audit may be nil
// in tests that don't care about the lifecycle log.
type Dispatcher struct {
	store    *store.Store
	notifier *notify.Notifier
	audit    *audit.Writer
	admins   []int64
	logger   *slog.Logger
}

// New builds a Dispatcher.
func New(st *store.Store, notifier *notify.Notifier, auditWriter *audit.Writer, admins []int64, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: st, notifier: notifier, audit: auditWriter, admins: admins, logger: logger}
}

func (d *Dispatcher) logAudit(bookingID uuid.UUID, action string) {
	if d.audit == nil {
		return
	}
	d.audit.Log(audit.Entry{BookingID: bookingID, Action: action})
}

const bidPrefixLen = 8

// bidPrefix returns the first 8 characters of the booking id's string
// form, matching Store.GetBookingByPrefix's `id::text LIKE $1 || '%'`.
func bidPrefix(id uuid.UUID) string {
	return id.String()[:bidPrefixLen]
}

// Dispatch loads the booking and its listing, resolves the owner, and
// either sends the owner prompt (marking the booking sent on success) or
// escalates to admins on failure, per §4.C. It never retries
// automatically; the Sweeper is the only path that moves a
// failed-to-dispatch booking forward.
func (d *Dispatcher) Dispatch(ctx context.Context, bookingID uuid.UUID) error {
	booking, err := d.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("dispatch: booking %s not found", bookingID)
		}
		return fmt.Errorf("dispatch: loading booking: %w", err)
	}

	listing, err := d.store.GetListing(ctx, booking.ListingID)
	if err != nil {
		return fmt.Errorf("dispatch: loading listing: %w", err)
	}

	if booking.OwnerChatID == 0 {
		d.escalateNoOwner(ctx, booking, listing)
		telemetry.DispatchFailuresTotal.WithLabelValues("no_owner").Inc()
		return nil
	}

	body := composeOwnerMessage(booking, listing)
	kb := ownerKeyboard(bookingID)

	messageID, err := d.notifier.Send(ctx, booking.OwnerChatID, body, kb)
	if err != nil {
		d.escalateUnreachable(ctx, booking, listing, err)
		telemetry.DispatchFailuresTotal.WithLabelValues("unreachable").Inc()
		return nil
	}

	applied, err := d.store.MarkDispatched(ctx, bookingID, messageID)
	if err != nil {
		return fmt.Errorf("dispatch: marking dispatched: %w", err)
	}
	if applied {
		telemetry.BookingsDispatchedTotal.Inc()
		d.logAudit(bookingID, "dispatched")
		d.logger.Info("booking dispatched", "booking_id", bookingID, "owner_chat_id", booking.OwnerChatID)
	}

	d.dispatchMonitorCopy(ctx, booking, listing)
	return nil
}

// dispatchMonitorCopy sends a read-only summary (no action buttons) to
// every admin, skipping whichever admin is also the listing's owner
// since that admin already received the actionable prompt.
func (d *Dispatcher) dispatchMonitorCopy(ctx context.Context, b *store.Booking, l *store.Listing) {
	body := composeMonitorMessage(b, l)
	for _, admin := range d.admins {
		if admin == b.OwnerChatID {
			continue
		}
		if _, err := d.notifier.Send(ctx, admin, body, nil); err != nil {
			d.logger.Warn("failed to deliver monitor copy", "admin", admin, "booking_id", b.ID, "error", err)
		}
	}
}

func (d *Dispatcher) escalateNoOwner(ctx context.Context, b *store.Booking, l *store.Listing) {
	body := fmt.Sprintf(
		"⚠️ Booking %s for listing %q has no owner on file. The booking remains pending_partner; please contact the partner directly.",
		bidPrefix(b.ID), l.Title,
	)
	d.logAudit(b.ID, "escalated")
	d.broadcastAdmins(ctx, body)
}

func (d *Dispatcher) escalateUnreachable(ctx context.Context, b *store.Booking, l *store.Listing, sendErr error) {
	owner, err := d.store.GetUser(ctx, b.OwnerChatID)
	contact := "no contact on file"
	if err == nil && owner != nil {
		contact = fmt.Sprintf("%s %s, %s", owner.FirstName, owner.LastName, owner.Phone)
	}
	body := fmt.Sprintf(
		"⚠️ Partner unreachable for booking %s (listing %q). Owner chat id %d, %s.\nReason: %v",
		bidPrefix(b.ID), l.Title, b.OwnerChatID, contact, sendErr,
	)
	d.logAudit(b.ID, "escalated")
	d.broadcastAdmins(ctx, body)
}

func (d *Dispatcher) broadcastAdmins(ctx context.Context, body string) {
	for _, admin := range d.admins {
		if _, err := d.notifier.Send(ctx, admin, body, nil); err != nil {
			d.logger.Warn("failed to deliver admin escalation", "admin", admin, "error", err)
		}
	}
}

func ownerKeyboard(bookingID uuid.UUID) *notify.Keyboard {
	prefix := bidPrefix(bookingID)
	return &notify.Keyboard{
		Rows: [][]notify.Button{{
			{Text: "Accept", Data: "accept:" + prefix},
			{Text: "Reject", Data: "reject:" + prefix},
		}},
	}
}

func composeOwnerMessage(b *store.Booking, l *store.Listing) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>New booking request</b> / Yangi band qilish so'rovi\n")
	fmt.Fprintf(&sb, "%s\n", l.Title)
	if l.PriceFrom != nil {
		fmt.Fprintf(&sb, "Price from / Narxi: %d %s\n", *l.PriceFrom, l.Currency)
	}
	fmt.Fprintf(&sb, "Guests / Mehmonlar: %d (%s)\n", b.Payload.GuestCount, strings.Join(b.Payload.GuestNames, ", "))
	fmt.Fprintf(&sb, "Phone / Telefon: %s\n", b.Payload.Phone)
	fmt.Fprintf(&sb, "Date / Sana: %s\n", b.Payload.Date)
	if b.Payload.Note != "" {
		fmt.Fprintf(&sb, "Note / Izoh: %s\n", b.Payload.Note)
	}
	sb.WriteString("Please respond within 5 minutes / Iltimos, 5 daqiqa ichida javob bering.")
	return sb.String()
}

func composeMonitorMessage(b *store.Booking, l *store.Listing) string {
	return fmt.Sprintf(
		"👁 Monitor copy: booking %s for %q, owner %d, status %s",
		bidPrefix(b.ID), l.Title, b.OwnerChatID, b.Status,
	)
}
