// Package sweeper runs the periodic task that atomically times out
// expired bookings and fans out notifications, grounded on the same
// ticker-plus-run-once-at-start-plus-graceful-cancellation shape used
// elsewhere in this codebase for background periodic work.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devco/tripdesk/internal/telemetry"
	"github.com/devco/tripdesk/pkg/booking"
	"github.com/devco/tripdesk/pkg/notify"
	"github.com/devco/tripdesk/pkg/store"
)

// Sweeper periodically calls Store.SweepExpired and notifies the user
// plus every admin for each booking it expires.
type Sweeper struct {
	store    *store.Store
	engine   *booking.Engine
	notifier *notify.Notifier
	admins   []int64
	logger   *slog.Logger
}

// New builds a Sweeper.
func New(st *store.Store, engine *booking.Engine, notifier *notify.Notifier, admins []int64, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: st, engine: engine, notifier: notifier, admins: admins, logger: logger}
}

// Run executes one sweep: transition expired bookings, then notify the
// user and admins for each. An error fanning out one row must not
// prevent the remaining rows from being processed.
func (s *Sweeper) Run(ctx context.Context) error {
	telemetry.SweepRunsTotal.Inc()

	rows, err := s.store.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweeper: sweep_expired: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	telemetry.SweepExpiredTotal.Add(float64(len(rows)))

	for _, row := range s.engine.OnTimeoutBatch(ctx, rows) {
		s.notifyRow(ctx, row)
	}
	return nil
}

func (s *Sweeper) notifyRow(ctx context.Context, row store.ExpiredRow) {
	if _, err := s.notifier.Send(ctx, row.UserChatID, userTimeoutMessage(row), nil); err != nil {
		s.logger.Error("sweeper: failed to notify user of timeout", "booking_id", row.BookingID, "user_chat_id", row.UserChatID, "error", err)
	}

	body := adminTimeoutMessage(row)
	for _, admin := range s.admins {
		if _, err := s.notifier.Send(ctx, admin, body, nil); err != nil {
			s.logger.Error("sweeper: failed to notify admin of timeout", "booking_id", row.BookingID, "admin", admin, "error", err)
		}
	}

	s.logger.Info("booking swept to timeout", "booking_id", row.BookingID, "user_chat_id", row.UserChatID, "owner_chat_id", row.OwnerChatID)
}

func userTimeoutMessage(row store.ExpiredRow) string {
	return "No response from the partner within 5 minutes. Please try again or pick another listing."
}

func adminTimeoutMessage(row store.ExpiredRow) string {
	title := "unknown listing"
	if row.ListingTitle != nil {
		title = *row.ListingTitle
	}
	phone := "no phone on file"
	if row.OwnerPhone != nil {
		phone = *row.OwnerPhone
	}
	name := "unknown partner"
	if row.OwnerFirst != nil || row.OwnerLast != nil {
		first, last := "", ""
		if row.OwnerFirst != nil {
			first = *row.OwnerFirst
		}
		if row.OwnerLast != nil {
			last = *row.OwnerLast
		}
		name = first + " " + last
	}
	return fmt.Sprintf(
		"Booking for %q timed out with no partner response. Please call the partner: %s, chat id %d, %s.",
		title, name, row.OwnerChatID, phone,
	)
}

// RunLoop runs Run every interval until ctx is cancelled. On
// cancellation the in-flight sweep completes its current iteration and
// exits.
func RunLoop(ctx context.Context, s *Sweeper, interval time.Duration) {
	s.logger.Info("timeout sweeper started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// A sweep that has started runs to the end even if ctx is cancelled
	// meanwhile; cancellation is only observed between sweeps.
	runCtx := context.WithoutCancel(ctx)

	if err := s.Run(runCtx); err != nil {
		s.logger.Error("initial sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Run(runCtx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
