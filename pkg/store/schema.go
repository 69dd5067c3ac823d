package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrResetNotAllowed is returned by ResetSchema when the caller has not
// opted into the destructive reset via config.
var ErrResetNotAllowed = errors.New("store: schema reset not permitted")

// Bootstrap brings the schema up to date. Every step is guarded by an
// existence check and is safe to run any number of times, including
// against a freshly reset database or one missing any of the indexes
// below. Tables that already exist are not altered to add missing
// columns; the only column change applied is the legacy partner_id
// rename.
func Bootstrap(ctx context.Context, db DBTX) error {
	steps := []struct {
		name string
		fn   func(context.Context, DBTX) error
	}{
		{"enable pgcrypto", enablePgcrypto},
		{"create users table", createUsersTable},
		{"create listings table", createListingsTable},
		{"create bookings table", createBookingsTable},
		{"rename legacy partner_id column", renameLegacyPartnerID},
		{"add bookings listing_id foreign key", addListingFK},
		{"backfill listings owner_chat_id", backfillOwnerChatID},
		{"create listings region/category/active index", createIndexIfMissing("idx_listings_region_category_active", "listings", "(region, category, is_active)", "")},
		{"create listings owner index", createIndexIfMissing("idx_listings_owner_chat_id", "listings", "(owner_chat_id)", "")},
		{"create bookings listing/status index", createIndexIfMissing("idx_bookings_listing_status", "bookings", "(listing_id, status)", "")},
		{"create bookings user/created index", createIndexIfMissing("idx_bookings_user_created", "bookings", "(user_chat_id, created_at DESC)", "")},
		{"create bookings expires partial index", createIndexIfMissing("idx_bookings_expires_status", "bookings", "(expires_at, status)", "WHERE expires_at IS NOT NULL")},
	}

	for _, step := range steps {
		if err := step.fn(ctx, db); err != nil {
			return fmt.Errorf("schema bootstrap step %q: %w", step.name, err)
		}
	}
	return nil
}

func enablePgcrypto(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pgcrypto`)
	return err
}

func createUsersTable(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			chat_id    BIGINT PRIMARY KEY,
			phone      TEXT NOT NULL,
			first_name TEXT NOT NULL,
			last_name  TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func createListingsTable(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			region        TEXT NOT NULL DEFAULT 'zomin',
			category      TEXT NOT NULL,
			subtype       TEXT,
			title         TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			price_from    BIGINT,
			currency      TEXT NOT NULL DEFAULT 'UZS',
			phone         TEXT NOT NULL DEFAULT '',
			owner_chat_id BIGINT NOT NULL DEFAULT 0,
			latitude      DOUBLE PRECISION,
			longitude     DOUBLE PRECISION,
			address       TEXT NOT NULL DEFAULT '',
			photos        JSONB NOT NULL DEFAULT '[]',
			is_active     BOOLEAN NOT NULL DEFAULT true,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func createBookingsTable(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bookings (
			id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			listing_id         UUID NOT NULL,
			user_chat_id       BIGINT NOT NULL,
			owner_chat_id      BIGINT NOT NULL,
			payload            JSONB NOT NULL,
			status             TEXT NOT NULL DEFAULT 'pending_partner',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			dispatched_at      TIMESTAMPTZ,
			expires_at         TIMESTAMPTZ,
			partner_message_id TEXT
		)
	`)
	return err
}

// renameLegacyPartnerID renames a pre-existing bookings.partner_id column
// to listing_id, the shape it had before listings/bookings were split out
// of the legacy partner system. No-op when the column is absent.
func renameLegacyPartnerID(ctx context.Context, db DBTX) error {
	exists, err := columnExists(ctx, db, "bookings", "partner_id")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	hasListingID, err := columnExists(ctx, db, "bookings", "listing_id")
	if err != nil {
		return err
	}
	if hasListingID {
		// Both columns present from a partial prior migration; leave
		// listing_id authoritative and drop the legacy column.
		_, err := db.Exec(ctx, `ALTER TABLE bookings DROP COLUMN partner_id`)
		return err
	}
	_, err = db.Exec(ctx, `ALTER TABLE bookings RENAME COLUMN partner_id TO listing_id`)
	return err
}

func addListingFK(ctx context.Context, db DBTX) error {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.table_constraints
			WHERE constraint_type = 'FOREIGN KEY'
			  AND table_name = 'bookings'
			  AND constraint_name = 'bookings_listing_id_fkey'
		)
	`).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(ctx, `
		ALTER TABLE bookings
		ADD CONSTRAINT bookings_listing_id_fkey
		FOREIGN KEY (listing_id) REFERENCES listings(id) ON DELETE CASCADE
	`)
	return err
}

// backfillOwnerChatID copies any legacy admin_id column on listings into
// owner_chat_id for rows where owner_chat_id is still the zero default.
func backfillOwnerChatID(ctx context.Context, db DBTX) error {
	exists, err := columnExists(ctx, db, "listings", "admin_id")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = db.Exec(ctx, `
		UPDATE listings SET owner_chat_id = admin_id
		WHERE owner_chat_id = 0 AND admin_id IS NOT NULL
	`)
	return err
}

func columnExists(ctx context.Context, db DBTX, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2
		)
	`, table, column).Scan(&exists)
	return exists, err
}

func createIndexIfMissing(name, table, columns, where string) func(context.Context, DBTX) error {
	return func(ctx context.Context, db DBTX) error {
		var exists bool
		err := db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_indexes WHERE indexname = $1
			)
		`, name).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s %s", name, table, columns)
		if where != "" {
			stmt += " " + where
		}
		_, err = db.Exec(ctx, stmt)
		return err
	}
}

// ResetSchema drops all three tables. Only permitted when allowReset is
// true (wired from config ALLOW_DB_RESET); intended for test/dev use.
func ResetSchema(ctx context.Context, db DBTX, allowReset bool) error {
	if !allowReset {
		return ErrResetNotAllowed
	}
	_, err := db.Exec(ctx, `DROP TABLE IF EXISTS bookings, listings, users CASCADE`)
	return err
}
