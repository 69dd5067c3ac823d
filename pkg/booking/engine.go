// Package booking is the pure orchestrator over Store primitives: the
// state machine that takes a booking from creation through dispatch to
// a terminal outcome.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/devco/tripdesk/internal/audit"
	"github.com/devco/tripdesk/internal/telemetry"
	"github.com/devco/tripdesk/pkg/store"
)

// Decision is a partner's action on a dispatched booking.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Outcome is the closed result of a partner decision attempt. The Engine
// never raises on a lost race; it reports one of these instead.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeAlreadyFinalized  Outcome = "already_finalized"
	OutcomeUnauthorized      Outcome = "unauthorized"
	OutcomeNotFound          Outcome = "not_found"
)

// Engine is the booking state machine. It holds no mutable state of its
// own; every transition is delegated to a guarded Store UPDATE. audit
// may be nil in tests that don't care about the lifecycle log.
type Engine struct {
	store  *store.Store
	audit  *audit.Writer
	logger *slog.Logger
}

// New builds an Engine over a Store, logging every transition to audit.
func New(st *store.Store, auditWriter *audit.Writer, logger *slog.Logger) *Engine {
	return &Engine{store: st, audit: auditWriter, logger: logger}
}

func (e *Engine) logAudit(bookingID uuid.UUID, action string, actorChatID int64) {
	if e.audit == nil {
		return
	}
	e.audit.Log(audit.Entry{BookingID: bookingID, Action: action, ActorChatID: actorChatID})
}

// CreateBooking copies owner_chat_id from the listing into the booking
// row at creation time and sets status to pending_partner.
func (e *Engine) CreateBooking(ctx context.Context, listingID uuid.UUID, userChatID int64, payload store.BookingPayload) (uuid.UUID, error) {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("booking: listing %s not found: %w", listingID, err)
		}
		return uuid.Nil, fmt.Errorf("booking: loading listing: %w", err)
	}

	id, err := e.store.CreateBooking(ctx, listingID, userChatID, listing.OwnerChatID, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("booking: creating: %w", err)
	}

	telemetry.BookingsCreatedTotal.WithLabelValues(string(listing.Category)).Inc()
	e.logAudit(id, "created", userChatID)
	e.logger.Info("booking created",
		"booking_id", id, "listing_id", listingID, "user_chat_id", userChatID, "owner_chat_id", listing.OwnerChatID)
	return id, nil
}

// OnPartnerDecision applies an owner's accept/reject decision. The owner
// identity check happens inside the Store's guarded UPDATE, not as a
// separate read, eliminating the check-then-act race.
func (e *Engine) OnPartnerDecision(ctx context.Context, bookingID uuid.UUID, actingOwnerChatID int64, decision Decision) (Outcome, error) {
	var applied bool
	var err error

	switch decision {
	case DecisionAccept:
		applied, err = e.store.Accept(ctx, bookingID, actingOwnerChatID)
	case DecisionReject:
		applied, err = e.store.Reject(ctx, bookingID, actingOwnerChatID)
	default:
		return "", fmt.Errorf("booking: unknown decision %q", decision)
	}
	if err != nil {
		return "", fmt.Errorf("booking: applying decision: %w", err)
	}
	if applied {
		telemetry.BookingsTerminalTotal.WithLabelValues(terminalOutcomeLabel(decision)).Inc()
		e.logAudit(bookingID, string(decision)+"ed", actingOwnerChatID)
		e.logger.Info("partner decision applied", "booking_id", bookingID, "owner_chat_id", actingOwnerChatID, "decision", decision)
		return OutcomeApplied, nil
	}

	// The guard failed. Determine whether that's because the booking is
	// already terminal, the caller isn't the owner, or it doesn't exist —
	// each needs a distinct reply to the actor.
	b, loadErr := e.store.GetBooking(ctx, bookingID)
	if loadErr != nil {
		if errors.Is(loadErr, pgx.ErrNoRows) {
			return OutcomeNotFound, nil
		}
		return "", fmt.Errorf("booking: loading after guard failure: %w", loadErr)
	}
	if b.OwnerChatID != actingOwnerChatID {
		return OutcomeUnauthorized, nil
	}
	return OutcomeAlreadyFinalized, nil
}

// OnTimeoutBatch is invoked by the Sweeper with the rows it just
// transitioned to timeout. It returns them unmodified; the caller (the
// Sweeper) is responsible for the notification fan-out since it already
// holds the Notifier.
func (e *Engine) OnTimeoutBatch(ctx context.Context, rows []store.ExpiredRow) []store.ExpiredRow {
	for _, r := range rows {
		telemetry.BookingsTerminalTotal.WithLabelValues("timeout").Inc()
		e.logAudit(r.BookingID, "timeout", 0)
		e.logger.Info("booking timed out", "booking_id", r.BookingID, "user_chat_id", r.UserChatID, "owner_chat_id", r.OwnerChatID)
	}
	return rows
}

func terminalOutcomeLabel(d Decision) string {
	if d == DecisionReject {
		return "rejected"
	}
	return "accepted"
}
