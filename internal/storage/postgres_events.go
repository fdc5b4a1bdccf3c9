package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/vector-promo/internal/models"
)

// PostgresEventLog implements EventLog using PostgreSQL.
type PostgresEventLog struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLog(pool *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{pool: pool}
}

func (s *PostgresEventLog) AppendEvent(ctx context.Context, ev *models.BusinessEvent) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO business_events (id, buyer_id, event_type, platform, order_id, product_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`, ev.ID, ev.BuyerID, ev.EventType, ev.Platform, ev.OrderID, ev.ProductName, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresEventLog) UpsertBuyer(ctx context.Context, b *models.Buyer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO buyers (buyer_id, buyer_name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (buyer_id) DO UPDATE SET
			buyer_name = CASE WHEN EXCLUDED.buyer_name <> '' THEN EXCLUDED.buyer_name ELSE buyers.buyer_name END
	`, b.BuyerID, b.BuyerName, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert buyer: %w", err)
	}
	return nil
}

func (s *PostgresEventLog) GetBuyer(ctx context.Context, buyerID string) (*models.Buyer, error) {
	var b models.Buyer
	err := s.pool.QueryRow(ctx, `
		SELECT buyer_id, buyer_name, created_at FROM buyers WHERE buyer_id = $1
	`, buyerID).Scan(&b.BuyerID, &b.BuyerName, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get buyer: %w", err)
	}
	return &b, nil
}

func (s *PostgresEventLog) EventsInWindow(ctx context.Context, buyerID string, after, until time.Time) ([]*models.BusinessEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, buyer_id, event_type, platform, order_id, product_name, created_at
		FROM business_events
		WHERE buyer_id = $1 AND created_at > $2 AND created_at <= $3
		ORDER BY created_at, id
	`, buyerID, after, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*models.BusinessEvent
	for rows.Next() {
		var ev models.BusinessEvent
		if err := rows.Scan(&ev.ID, &ev.BuyerID, &ev.EventType, &ev.Platform, &ev.OrderID, &ev.ProductName, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *PostgresEventLog) CountByType(ctx context.Context, buyerID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lower(event_type), COUNT(*)
		FROM business_events
		WHERE buyer_id = $1
		GROUP BY 1
	`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			eventType string
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = n
	}
	return counts, rows.Err()
}
