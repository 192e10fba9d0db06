package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/link-router/internal/database"
	"github.com/vadimbarashkov/link-router/internal/models"
)

type shortLinkRecord struct {
	ID          int64          `db:"id"`
	ShortCode   string         `db:"short_code"`
	OriginalURL string         `db:"original_url"`
	FallbackURL sql.NullString `db:"fallback_url"`
	IsActive    bool           `db:"is_active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *shortLinkRecord) ToShortLink() *models.ShortLink {
	return &models.ShortLink{
		ID:          r.ID,
		ShortCode:   r.ShortCode,
		OriginalURL: r.OriginalURL,
		FallbackURL: r.FallbackURL.String,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type destinationRecord struct {
	ID                int64          `db:"id"`
	ShortLinkID       int64          `db:"short_link_id"`
	Priority          int            `db:"priority"`
	URL               string         `db:"url"`
	HealthStatus      sql.NullString `db:"health_status"`
	LastHealthCheckAt sql.NullTime   `db:"last_health_check_at"`
}

func (r *destinationRecord) ToDestination() *models.Destination {
	dest := &models.Destination{
		ID:           r.ID,
		ShortLinkID:  r.ShortLinkID,
		Priority:     r.Priority,
		URL:          r.URL,
		HealthStatus: models.HealthStatus(r.HealthStatus.String),
	}

	if r.LastHealthCheckAt.Valid {
		t := r.LastHealthCheckAt.Time
		dest.LastHealthCheckAt = &t
	}

	return dest
}

type scheduleRecord struct {
	ID             int64     `db:"id"`
	ShortLinkID    int64     `db:"short_link_id"`
	DestinationURL string    `db:"destination_url"`
	StartsAt       time.Time `db:"starts_at"`
	EndsAt         time.Time `db:"ends_at"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r *scheduleRecord) ToSchedule() *models.Schedule {
	return &models.Schedule{
		ID:             r.ID,
		ShortLinkID:    r.ShortLinkID,
		DestinationURL: r.DestinationURL,
		StartsAt:       r.StartsAt,
		EndsAt:         r.EndsAt,
		CreatedAt:      r.CreatedAt,
	}
}

type abTestRecord struct {
	ID             int64  `db:"id"`
	ShortLinkID    int64  `db:"short_link_id"`
	Status         string `db:"status"`
	VariantAURL    string `db:"variant_a_url"`
	VariantBURL    string `db:"variant_b_url"`
	VariantAWeight int    `db:"variant_a_weight"`
	VariantBWeight int    `db:"variant_b_weight"`
	VariantAClicks int64  `db:"variant_a_clicks"`
	VariantBClicks int64  `db:"variant_b_clicks"`
}

func (r *abTestRecord) ToABTest() *models.ABTest {
	return &models.ABTest{
		ID:             r.ID,
		ShortLinkID:    r.ShortLinkID,
		Status:         r.Status,
		VariantAURL:    r.VariantAURL,
		VariantBURL:    r.VariantBURL,
		VariantAWeight: r.VariantAWeight,
		VariantBWeight: r.VariantBWeight,
		VariantAClicks: r.VariantAClicks,
		VariantBClicks: r.VariantBClicks,
	}
}

// RouteRepository implements the router's store contracts on PostgreSQL.
// All routing state lives here; the repository is the single source of truth
// for schedule windows, experiment status, and cached destination health.
type RouteRepository struct {
	db *sqlx.DB
}

func NewRouteRepository(db *sqlx.DB) *RouteRepository {
	return &RouteRepository{
		db: db,
	}
}

// ActiveShortLinkByCode resolves a short code to its active link. Inactive
// or missing links return database.ErrShortLinkNotFound.
func (r *RouteRepository) ActiveShortLinkByCode(ctx context.Context, shortCode string) (*models.ShortLink, error) {
	const op = "database.postgres.RouteRepository.ActiveShortLinkByCode"

	rec := new(shortLinkRecord)
	query := `SELECT id, short_code, original_url, fallback_url, is_active, created_at, updated_at
		FROM short_links
		WHERE short_code = $1 AND is_active = TRUE`

	err := r.db.GetContext(ctx, rec, query, shortCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrShortLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get short link record: %w", op, err)
	}

	return rec.ToShortLink(), nil
}

// ActiveSchedule returns the schedule whose window contains now, or nil when
// none is active. Overlapping windows are resolved in favor of the most
// recently created schedule.
func (r *RouteRepository) ActiveSchedule(ctx context.Context, shortLinkID int64, now time.Time) (*models.Schedule, error) {
	const op = "database.postgres.RouteRepository.ActiveSchedule"

	rec := new(scheduleRecord)
	query := `SELECT id, short_link_id, destination_url, starts_at, ends_at, created_at
		FROM schedules
		WHERE short_link_id = $1 AND starts_at <= $2 AND ends_at > $2
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, rec, query, shortLinkID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: failed to get schedule record: %w", op, err)
	}

	return rec.ToSchedule(), nil
}

// RunningABTest returns the running experiment for a short link, or nil when
// none exists.
func (r *RouteRepository) RunningABTest(ctx context.Context, shortLinkID int64) (*models.ABTest, error) {
	const op = "database.postgres.RouteRepository.RunningABTest"

	rec := new(abTestRecord)
	query := `SELECT id, short_link_id, status, variant_a_url, variant_b_url,
			variant_a_weight, variant_b_weight, variant_a_clicks, variant_b_clicks
		FROM ab_tests
		WHERE short_link_id = $1 AND status = 'running'
		ORDER BY id
		LIMIT 1`

	err := r.db.GetContext(ctx, rec, query, shortLinkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: failed to get ab test record: %w", op, err)
	}

	return rec.ToABTest(), nil
}

// IncrementVariantClicks bumps the click counter of the chosen variant.
// Callers treat this as best-effort; a lost increment is acceptable.
func (r *RouteRepository) IncrementVariantClicks(ctx context.Context, testID int64, variant models.Variant) error {
	const op = "database.postgres.RouteRepository.IncrementVariantClicks"

	column := "variant_a_clicks"
	if variant == models.VariantB {
		column = "variant_b_clicks"
	}

	query := fmt.Sprintf(`UPDATE ab_tests SET %s = %s + 1 WHERE id = $1`, column, column)

	res, err := r.db.ExecContext(ctx, query, testID)
	if err != nil {
		return fmt.Errorf("%s: failed to increment variant clicks: %w", op, err)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("%s: ab test %d does not exist", op, testID)
	}

	return nil
}

// DestinationsByPriority lists a link's destinations ordered by ascending
// priority, ties broken by id so the walk order is stable.
func (r *RouteRepository) DestinationsByPriority(ctx context.Context, shortLinkID int64) ([]*models.Destination, error) {
	const op = "database.postgres.RouteRepository.DestinationsByPriority"

	var recs []destinationRecord
	query := `SELECT id, short_link_id, priority, url, health_status, last_health_check_at
		FROM destinations
		WHERE short_link_id = $1
		ORDER BY priority, id`

	err := r.db.SelectContext(ctx, &recs, query, shortLinkID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list destination records: %w", op, err)
	}

	dests := make([]*models.Destination, 0, len(recs))
	for i := range recs {
		dests = append(dests, recs[i].ToDestination())
	}

	return dests, nil
}

// RecordClick stores the analytics record of a routing decision. Best-effort
// like the variant increment; the redirect never waits on it.
func (r *RouteRepository) RecordClick(ctx context.Context, event *models.ClickEvent) error {
	const op = "database.postgres.RouteRepository.RecordClick"

	query := `INSERT INTO click_events (event_id, short_code, routing_reason, priority_used, variant, response_time_ms)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID, event.ShortCode, string(event.RoutingReason),
		event.PriorityUsed, string(event.Variant), event.ResponseTimeMs,
	)
	if err != nil {
		return fmt.Errorf("%s: failed to insert click event: %w", op, err)
	}

	return nil
}
