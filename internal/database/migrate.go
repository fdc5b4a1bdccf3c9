package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	sql     string
}

// migrationLockID serializes concurrent Migrate calls across instances.
const migrationLockID = 72_110_301

var migrations = []migration{
	{
		version: 1,
		name:    "assignments and buyers",
		sql: `
			CREATE TABLE IF NOT EXISTS assignments (
				buyer_id    TEXT NOT NULL,
				platform    TEXT NOT NULL,
				weekday     TEXT NOT NULL,
				segment     TEXT NOT NULL,
				variant     TEXT NOT NULL,
				price       BIGINT NOT NULL,
				source      TEXT NOT NULL DEFAULT '',
				assigned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (buyer_id, platform, weekday, segment)
			);

			CREATE TABLE IF NOT EXISTS buyers (
				buyer_id   TEXT PRIMARY KEY,
				buyer_name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
		`,
	},
	{
		version: 2,
		name:    "tracking links and clicks",
		sql: `
			CREATE TABLE IF NOT EXISTS tracking_links (
				token         TEXT PRIMARY KEY,
				buyer_id      TEXT NOT NULL,
				day           TEXT NOT NULL,
				target_url    TEXT NOT NULL,
				platform      TEXT NOT NULL DEFAULT '',
				created_at    TIMESTAMPTZ NOT NULL,
				click_count   BIGINT NOT NULL DEFAULT 0,
				season        TEXT NOT NULL DEFAULT '',
				offer_code    TEXT NOT NULL DEFAULT '',
				offer_days    INTEGER NOT NULL DEFAULT 0,
				price_variant TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_tracking_links_created ON tracking_links (created_at);
			CREATE INDEX IF NOT EXISTS idx_tracking_links_buyer ON tracking_links (buyer_id);

			CREATE TABLE IF NOT EXISTS clicks (
				id          TEXT PRIMARY KEY,
				token       TEXT NOT NULL REFERENCES tracking_links (token),
				buyer_id    TEXT NOT NULL,
				day         TEXT NOT NULL,
				platform    TEXT NOT NULL DEFAULT '',
				ts          TIMESTAMPTZ NOT NULL,
				user_agent  TEXT NOT NULL DEFAULT '',
				referrer    TEXT NOT NULL DEFAULT '',
				ip          TEXT NOT NULL DEFAULT '',
				geo_country TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_clicks_token_ts ON clicks (token, ts);
			CREATE INDEX IF NOT EXISTS idx_clicks_ts ON clicks (ts);
		`,
	},
	{
		version: 3,
		name:    "business events",
		sql: `
			CREATE TABLE IF NOT EXISTS business_events (
				id           TEXT PRIMARY KEY,
				buyer_id     TEXT NOT NULL,
				event_type   TEXT NOT NULL,
				platform     TEXT NOT NULL DEFAULT '',
				order_id     TEXT NOT NULL DEFAULT '',
				product_name TEXT NOT NULL DEFAULT '',
				created_at   TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_business_events_buyer_ts ON business_events (buyer_id, created_at);
		`,
	},
	{
		version: 4,
		name:    "monthly stats",
		sql: `
			CREATE TABLE IF NOT EXISTS monthly_stats (
				kind              TEXT NOT NULL,
				month             TEXT NOT NULL,
				segment           TEXT NOT NULL,
				platform          TEXT NOT NULL,
				weekday           TEXT NOT NULL,
				season            TEXT NOT NULL DEFAULT '',
				variant           TEXT NOT NULL DEFAULT '',
				offer_code        TEXT NOT NULL DEFAULT '',
				offer_days        INTEGER NOT NULL DEFAULT 0,
				price             BIGINT NOT NULL DEFAULT 0,
				links_issued      BIGINT NOT NULL DEFAULT 0,
				clicks            BIGINT NOT NULL DEFAULT 0,
				unique_clickers   BIGINT NOT NULL DEFAULT 0,
				click_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
				conversions_total BIGINT NOT NULL DEFAULT 0,
				conv_rate_links   DOUBLE PRECISION NOT NULL DEFAULT 0,
				click_cvr         DOUBLE PRECISION NOT NULL DEFAULT 0,
				conv_purchase     BIGINT NOT NULL DEFAULT 0,
				conv_coupon       BIGINT NOT NULL DEFAULT 0,
				conv_revisit      BIGINT NOT NULL DEFAULT 0,
				ev_links          DOUBLE PRECISION NOT NULL DEFAULT 0,
				ev_clickers       DOUBLE PRECISION NOT NULL DEFAULT 0,
				PRIMARY KEY (kind, month, segment, platform, weekday, season, variant, offer_code, offer_days)
			);
			CREATE INDEX IF NOT EXISTS idx_monthly_stats_selector ON monthly_stats (kind, segment, platform, weekday);

			CREATE TABLE IF NOT EXISTS aggregation_runs (
				kind        TEXT NOT NULL,
				month       TEXT NOT NULL,
				row_count   INTEGER NOT NULL,
				computed_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (kind, month)
			);
		`,
	},
	{
		version: 5,
		name:    "price in monthly stats key",
		sql: `
			ALTER TABLE monthly_stats DROP CONSTRAINT IF EXISTS monthly_stats_pkey;
			ALTER TABLE monthly_stats
				ADD PRIMARY KEY (kind, month, segment, platform, weekday, season, variant, offer_code, offer_days, price);
		`,
	},
	{
		version: 6,
		name:    "unique business events per order",
		sql: `
			DELETE FROM business_events e
			USING business_events d
			WHERE e.order_id <> ''
				AND e.buyer_id = d.buyer_id
				AND e.event_type = d.event_type
				AND e.order_id = d.order_id
				AND (e.created_at, e.id) > (d.created_at, d.id);

			CREATE UNIQUE INDEX IF NOT EXISTS uq_business_events_order
				ON business_events (buyer_id, event_type, order_id)
				WHERE order_id <> '';
		`,
	},
}

// Migrate applies pending migrations in order and returns how many ran.
func (db *PostgresDB) Migrate(ctx context.Context) (int, error) {
	applied := 0

	err := db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version    INTEGER PRIMARY KEY,
				name       TEXT NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`); err != nil {
			return fmt.Errorf("failed to create schema_migrations: %w", err)
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		for _, m := range migrations {
			if m.version <= current {
				continue
			}
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("failed to apply migration %d (%s): %w", m.version, m.name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.version, m.name,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.version, err)
			}
			db.logger.Info("applied migration", zap.Int("version", m.version), zap.String("name", m.name))
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}
