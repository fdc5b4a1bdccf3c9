package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/vector-promo/internal/models"
)

// PostgresLinkRepo implements LinkRepo using PostgreSQL.
type PostgresLinkRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkRepo(pool *pgxpool.Pool) *PostgresLinkRepo {
	return &PostgresLinkRepo{pool: pool}
}

const linkColumns = `token, buyer_id, day, target_url, platform, created_at, click_count, season, offer_code, offer_days, price_variant`

func scanLink(row pgx.Row) (*models.TrackingLink, error) {
	var l models.TrackingLink
	err := row.Scan(
		&l.Token, &l.BuyerID, &l.Day, &l.TargetURL, &l.Platform, &l.CreatedAt,
		&l.ClickCount, &l.Season, &l.OfferCode, &l.OfferDays, &l.PriceVariant,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PostgresLinkRepo) CreateLink(ctx context.Context, l *models.TrackingLink) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tracking_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, l.Token, l.BuyerID, l.Day, l.TargetURL, l.Platform, l.CreatedAt,
		l.ClickCount, l.Season, l.OfferCode, l.OfferDays, l.PriceVariant)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (r *PostgresLinkRepo) GetLink(ctx context.Context, token string) (*models.TrackingLink, error) {
	l, err := scanLink(r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM tracking_links WHERE token = $1
	`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return l, nil
}

// RegisterClick serializes concurrent clicks on a token through the row lock
// taken by the UPDATE.
func (r *PostgresLinkRepo) RegisterClick(ctx context.Context, token string, click *models.Click) (*models.TrackingLink, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := scanLink(tx.QueryRow(ctx, `
		UPDATE tracking_links SET click_count = click_count + 1
		WHERE token = $1
		RETURNING `+linkColumns,
		token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment click count: %w", err)
	}

	click.Token = l.Token
	click.BuyerID = l.BuyerID
	click.Day = l.Day
	click.Platform = l.Platform

	_, err = tx.Exec(ctx, `
		INSERT INTO clicks (id, token, buyer_id, day, platform, ts, user_agent, referrer, ip, geo_country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, click.ID, click.Token, click.BuyerID, click.Day, click.Platform, click.Timestamp,
		click.UserAgent, click.Referrer, click.IP, click.GeoCountry)
	if err != nil {
		return nil, fmt.Errorf("failed to save click: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit click: %w", err)
	}
	return l, nil
}

func (r *PostgresLinkRepo) ListLinks(ctx context.Context, f models.LinkFilter) ([]*models.TrackingLink, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if len(f.Days) > 0 {
		add("day = ANY($%d)", f.Days)
	}
	if f.Platform != "" {
		add("platform = $%d", f.Platform)
	}
	if len(f.BuyerIDs) > 0 {
		add("buyer_id = ANY($%d)", f.BuyerIDs)
	}

	query := `SELECT ` + linkColumns + ` FROM tracking_links`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, token`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var out []*models.TrackingLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresLinkRepo) ListClicks(ctx context.Context, tokens []string, from, to time.Time) ([]*models.Click, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, token, buyer_id, day, platform, ts, user_agent, referrer, ip, geo_country
		FROM clicks
		WHERE token = ANY($1) AND ts >= $2 AND ts < $3
		ORDER BY ts, id
	`, tokens, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list clicks: %w", err)
	}
	defer rows.Close()

	var out []*models.Click
	for rows.Next() {
		var c models.Click
		if err := rows.Scan(&c.ID, &c.Token, &c.BuyerID, &c.Day, &c.Platform, &c.Timestamp,
			&c.UserAgent, &c.Referrer, &c.IP, &c.GeoCountry); err != nil {
			return nil, fmt.Errorf("failed to scan click: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
