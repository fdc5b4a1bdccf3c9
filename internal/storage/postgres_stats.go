package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/vector-promo/internal/models"
)

// PostgresStatsRepo implements StatsRepo using PostgreSQL.
type PostgresStatsRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresStatsRepo(pool *pgxpool.Pool) *PostgresStatsRepo {
	return &PostgresStatsRepo{pool: pool}
}

var statsColumns = []string{
	"kind", "month", "segment", "platform", "weekday", "season", "variant", "offer_code", "offer_days", "price",
	"links_issued", "clicks", "unique_clickers", "click_rate", "conversions_total", "conv_rate_links", "click_cvr",
	"conv_purchase", "conv_coupon", "conv_revisit", "ev_links", "ev_clickers",
}

func (r *PostgresStatsRepo) Query(ctx context.Context, f models.StatsFilter) ([]*models.StatsCell, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "$?", fmt.Sprintf("$%d", len(args))))
	}

	if f.Kind != "" {
		add("kind = $?", string(f.Kind))
	}
	if f.Segment != "" {
		add("segment = $?", f.Segment)
	}
	if f.Platform != "" {
		add("platform = $?", f.Platform)
	}
	if f.Weekday != "" {
		add("weekday = $?", f.Weekday)
	}
	if f.Month != "" {
		add("month = $?", f.Month)
	}
	if f.Season != "" {
		add("(season = '' OR season = $?)", f.Season)
	}

	query := `SELECT ` + strings.Join(statsColumns, ", ") + ` FROM monthly_stats`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY month COLLATE "C",
		(CASE WHEN kind = 'offer' THEN offer_code ELSE variant END) COLLATE "C",
		price, season COLLATE "C", offer_days,
		segment COLLATE "C", platform COLLATE "C", weekday COLLATE "C"`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var out []*models.StatsCell
	for rows.Next() {
		var (
			c    models.StatsCell
			kind string
		)
		if err := rows.Scan(
			&kind, &c.Month, &c.Segment, &c.Platform, &c.Weekday, &c.Season, &c.Variant, &c.OfferCode, &c.OfferDays, &c.Price,
			&c.LinksIssued, &c.Clicks, &c.UniqueClickers, &c.ClickRate, &c.ConversionsTotal, &c.ConvRateLinks, &c.ClickCVR,
			&c.ConvPurchase, &c.ConvCoupon, &c.ConvRevisit, &c.EVLinks, &c.EVClickers,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		c.Kind = models.StatsKind(kind)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ReplaceMonth runs delete, bulk copy and run bookkeeping in one transaction.
func (r *PostgresStatsRepo) ReplaceMonth(ctx context.Context, run models.AggregationRun, cells []*models.StatsCell) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM monthly_stats WHERE kind = $1 AND month = $2`, string(run.Kind), run.Month); err != nil {
		return fmt.Errorf("failed to delete stats for %s %s: %w", run.Kind, run.Month, err)
	}

	if len(cells) > 0 {
		rows := make([][]any, 0, len(cells))
		for _, c := range cells {
			rows = append(rows, []any{
				string(run.Kind), run.Month, c.Segment, c.Platform, c.Weekday, c.Season, c.Variant, c.OfferCode, c.OfferDays, c.Price,
				c.LinksIssued, c.Clicks, c.UniqueClickers, c.ClickRate, c.ConversionsTotal, c.ConvRateLinks, c.ClickCVR,
				c.ConvPurchase, c.ConvCoupon, c.ConvRevisit, c.EVLinks, c.EVClickers,
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"monthly_stats"}, statsColumns, pgx.CopyFromRows(rows)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: stats for %s %s: %v", ErrDuplicate, run.Kind, run.Month, err)
			}
			return fmt.Errorf("failed to insert stats for %s %s: %w", run.Kind, run.Month, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO aggregation_runs (kind, month, row_count, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, month) DO UPDATE SET
			row_count = EXCLUDED.row_count,
			computed_at = EXCLUDED.computed_at
	`, string(run.Kind), run.Month, run.Rows, run.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to record aggregation run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit stats: %w", err)
	}
	return nil
}

func (r *PostgresStatsRepo) GetRun(ctx context.Context, kind models.StatsKind, month string) (*models.AggregationRun, error) {
	run := models.AggregationRun{Kind: kind, Month: month}
	err := r.pool.QueryRow(ctx, `
		SELECT row_count, computed_at FROM aggregation_runs WHERE kind = $1 AND month = $2
	`, string(kind), month).Scan(&run.Rows, &run.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregation run: %w", err)
	}
	return &run, nil
}

func (r *PostgresStatsRepo) ListRuns(ctx context.Context) ([]*models.AggregationRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, month, row_count, computed_at FROM aggregation_runs ORDER BY month, kind
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregation runs: %w", err)
	}
	defer rows.Close()

	var out []*models.AggregationRun
	for rows.Next() {
		var (
			run  models.AggregationRun
			kind string
		)
		if err := rows.Scan(&kind, &run.Month, &run.Rows, &run.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan aggregation run: %w", err)
		}
		run.Kind = models.StatsKind(kind)
		out = append(out, &run)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
