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

// PostgresAssignmentRepo implements AssignmentRepo using PostgreSQL.
type PostgresAssignmentRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAssignmentRepo(pool *pgxpool.Pool) *PostgresAssignmentRepo {
	return &PostgresAssignmentRepo{pool: pool}
}

const assignmentColumns = `buyer_id, platform, weekday, segment, variant, price, source, assigned_at`

func scanAssignment(row pgx.Row) (*models.Assignment, error) {
	var a models.Assignment
	err := row.Scan(&a.BuyerID, &a.Platform, &a.Weekday, &a.Segment, &a.Variant, &a.Price, &a.Source, &a.AssignedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresAssignmentRepo) Get(ctx context.Context, key models.AssignmentKey) (*models.Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE buyer_id = $1 AND platform = $2 AND weekday = $3 AND segment = $4
	`, key.BuyerID, key.Platform, key.Weekday, key.Segment))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// CreateIfAbsent relies on the primary key: the first insert wins and every
// caller reads back that row.
func (r *PostgresAssignmentRepo) CreateIfAbsent(ctx context.Context, a *models.Assignment) (*models.Assignment, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (buyer_id, platform, weekday, segment) DO NOTHING
	`, a.BuyerID, a.Platform, a.Weekday, a.Segment, a.Variant, a.Price, a.Source, a.AssignedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}

	stored, err := r.Get(ctx, a.AssignmentKey)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("assignment for %s vanished after insert", a.BuyerID)
	}
	return stored, nil
}

func (r *PostgresAssignmentRepo) ListAssigned(ctx context.Context, from, to time.Time) ([]*models.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE assigned_at >= $1 AND assigned_at < $2
		ORDER BY assigned_at, buyer_id, platform, weekday, segment
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
