package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vadimbarashkov/link-router/internal/config"
	"github.com/vadimbarashkov/link-router/internal/database"
	"github.com/vadimbarashkov/link-router/internal/database/postgres"
	"github.com/vadimbarashkov/link-router/internal/models"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupPostgres(t testing.TB) config.Postgres {
	t.Helper()

	ctx := context.Background()

	pgUser := "test"
	pgPassword := "test"
	pgDB := "link_router"

	pgCont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDB,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForExposedPort(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCont.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate postgres container: %v", err)
		}
	})

	pgHost, err := pgCont.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	pgPort, err := pgCont.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return config.Postgres{
		User:     pgUser,
		Password: pgPassword,
		Host:     pgHost,
		Port:     pgPort.Int(),
		DB:       pgDB,
		SSLMode:  "disable",
	}
}

func runMigrations(t testing.TB, cfg config.Postgres) {
	t.Helper()

	migrationPath := "file://../../../../migrations"

	m, err := migrate.New(migrationPath, cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to initialize migrations: %v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			t.Fatalf("Failed to rollback migrations: %v", err)
		}
	})
}

func setupRouteRepository(t testing.TB) (*postgres.RouteRepository, *sqlx.DB) {
	t.Helper()

	cfg := setupPostgres(t)
	runMigrations(t, cfg)

	db, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close database: %v", err)
		}
	})

	return postgres.NewRouteRepository(db), db
}

func insertShortLink(t testing.TB, ctx context.Context, db *sqlx.DB, shortCode, originalURL, fallbackURL string, isActive bool) int64 {
	t.Helper()

	var id int64
	query := `INSERT INTO short_links (short_code, original_url, fallback_url, is_active)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id`

	if err := db.GetContext(ctx, &id, query, shortCode, originalURL, fallbackURL, isActive); err != nil {
		t.Fatalf("Failed to insert short link: %v", err)
	}

	return id
}

func insertDestination(t testing.TB, ctx context.Context, db *sqlx.DB, shortLinkID int64, priority int, url, healthStatus string, lastCheckedAt *time.Time) int64 {
	t.Helper()

	var id int64
	query := `INSERT INTO destinations (short_link_id, priority, url, health_status, last_health_check_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id`

	if err := db.GetContext(ctx, &id, query, shortLinkID, priority, url, healthStatus, lastCheckedAt); err != nil {
		t.Fatalf("Failed to insert destination: %v", err)
	}

	return id
}

func insertSchedule(t testing.TB, ctx context.Context, db *sqlx.DB, shortLinkID int64, destinationURL string, startsAt, endsAt, createdAt time.Time) int64 {
	t.Helper()

	var id int64
	query := `INSERT INTO schedules (short_link_id, destination_url, starts_at, ends_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := db.GetContext(ctx, &id, query, shortLinkID, destinationURL, startsAt, endsAt, createdAt); err != nil {
		t.Fatalf("Failed to insert schedule: %v", err)
	}

	return id
}

func insertABTest(t testing.TB, ctx context.Context, db *sqlx.DB, shortLinkID int64, status string, variantAWeight int) int64 {
	t.Helper()

	var id int64
	query := `INSERT INTO ab_tests (short_link_id, status, variant_a_url, variant_b_url, variant_a_weight, variant_b_weight)
		VALUES ($1, $2, 'https://a.example.com', 'https://b.example.com', $3, $4)
		RETURNING id`

	if err := db.GetContext(ctx, &id, query, shortLinkID, status, variantAWeight, 100-variantAWeight); err != nil {
		t.Fatalf("Failed to insert ab test: %v", err)
	}

	return id
}

func TestRouteRepository_ActiveShortLinkByCode(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()
	repo, db := setupRouteRepository(t)

	t.Run("short link not found", func(t *testing.T) {
		link, err := repo.ActiveShortLinkByCode(ctx, "missing")

		assert.Error(t, err)
		assert.ErrorIs(t, err, database.ErrShortLinkNotFound)
		assert.Nil(t, link)
	})

	t.Run("inactive link is invisible", func(t *testing.T) {
		insertShortLink(t, ctx, db, "inact1", "https://example.com", "", false)

		link, err := repo.ActiveShortLinkByCode(ctx, "inact1")

		assert.ErrorIs(t, err, database.ErrShortLinkNotFound)
		assert.Nil(t, link)
	})

	t.Run("success", func(t *testing.T) {
		id := insertShortLink(t, ctx, db, "abc123", "https://example.com", "https://fallback.example.com", true)

		link, err := repo.ActiveShortLinkByCode(ctx, "abc123")

		require.NoError(t, err)
		require.NotNil(t, link)
		assert.Equal(t, id, link.ID)
		assert.Equal(t, "abc123", link.ShortCode)
		assert.Equal(t, "https://example.com", link.OriginalURL)
		assert.Equal(t, "https://fallback.example.com", link.FallbackURL)
		assert.True(t, link.IsActive)
	})

	t.Run("null fallback maps to empty string", func(t *testing.T) {
		insertShortLink(t, ctx, db, "nofall", "https://example.com", "", true)

		link, err := repo.ActiveShortLinkByCode(ctx, "nofall")

		require.NoError(t, err)
		assert.Empty(t, link.FallbackURL)
	})
}

func TestRouteRepository_ActiveSchedule(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()
	repo, db := setupRouteRepository(t)

	now := time.Now().UTC()
	linkID := insertShortLink(t, ctx, db, "abc123", "https://example.com", "", true)

	t.Run("no schedule", func(t *testing.T) {
		schedule, err := repo.ActiveSchedule(ctx, linkID, now)

		assert.NoError(t, err)
		assert.Nil(t, schedule)
	})

	t.Run("window boundaries", func(t *testing.T) {
		startsAt := now.Add(-time.Hour)
		endsAt := now.Add(time.Hour)
		id := insertSchedule(t, ctx, db, linkID, "https://sale.example.com", startsAt, endsAt, now.Add(-2*time.Hour))

		schedule, err := repo.ActiveSchedule(ctx, linkID, now)
		require.NoError(t, err)
		require.NotNil(t, schedule)
		assert.Equal(t, id, schedule.ID)
		assert.Equal(t, "https://sale.example.com", schedule.DestinationURL)

		// starts_at is inclusive, ends_at exclusive
		schedule, err = repo.ActiveSchedule(ctx, linkID, startsAt)
		require.NoError(t, err)
		assert.NotNil(t, schedule)

		schedule, err = repo.ActiveSchedule(ctx, linkID, endsAt)
		require.NoError(t, err)
		assert.Nil(t, schedule)
	})

	t.Run("overlapping windows favor the most recent schedule", func(t *testing.T) {
		id := insertSchedule(t, ctx, db, linkID, "https://flash.example.com",
			now.Add(-time.Hour), now.Add(time.Hour), now.Add(-time.Minute))

		schedule, err := repo.ActiveSchedule(ctx, linkID, now)

		require.NoError(t, err)
		require.NotNil(t, schedule)
		assert.Equal(t, id, schedule.ID)
		assert.Equal(t, "https://flash.example.com", schedule.DestinationURL)
	})
}

func TestRouteRepository_RunningABTest(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()
	repo, db := setupRouteRepository(t)

	linkID := insertShortLink(t, ctx, db, "abc123", "https://example.com", "", true)

	t.Run("no test", func(t *testing.T) {
		test, err := repo.RunningABTest(ctx, linkID)

		assert.NoError(t, err)
		assert.Nil(t, test)
	})

	t.Run("non-running test is invisible", func(t *testing.T) {
		insertABTest(t, ctx, db, linkID, "paused", 70)

		test, err := repo.RunningABTest(ctx, linkID)

		assert.NoError(t, err)
		assert.Nil(t, test)
	})

	t.Run("success", func(t *testing.T) {
		id := insertABTest(t, ctx, db, linkID, "running", 70)

		test, err := repo.RunningABTest(ctx, linkID)

		require.NoError(t, err)
		require.NotNil(t, test)
		assert.Equal(t, id, test.ID)
		assert.Equal(t, "running", test.Status)
		assert.Equal(t, "https://a.example.com", test.VariantAURL)
		assert.Equal(t, "https://b.example.com", test.VariantBURL)
		assert.Equal(t, 70, test.VariantAWeight)
		assert.Equal(t, 30, test.VariantBWeight)
		assert.Zero(t, test.VariantAClicks)
	})
}

func TestRouteRepository_IncrementVariantClicks(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()
	repo, db := setupRouteRepository(t)

	linkID := insertShortLink(t, ctx, db, "abc123", "https://example.com", "", true)
	testID := insertABTest(t, ctx, db, linkID, "running", 70)

	t.Run("test not found", func(t *testing.T) {
		err := repo.IncrementVariantClicks(ctx, testID+1000, models.VariantA)

		assert.Error(t, err)
	})

	t.Run("success", func(t *testing.T) {
		require.NoError(t, repo.IncrementVariantClicks(ctx, testID, models.VariantA))
		require.NoError(t, repo.IncrementVariantClicks(ctx, testID, models.VariantA))
		require.NoError(t, repo.IncrementVariantClicks(ctx, testID, models.VariantB))

		var aClicks, bClicks int64
		err := db.QueryRowContext(ctx,
			`SELECT variant_a_clicks, variant_b_clicks FROM ab_tests WHERE id = $1`, testID,
		).Scan(&aClicks, &bClicks)

		require.NoError(t, err)
		assert.Equal(t, int64(2), aClicks)
		assert.Equal(t, int64(1), bClicks)
	})
}

func TestRouteRepository_DestinationsByPriority(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()
	repo, db := setupRouteRepository(t)

	now := time.Now().UTC().Truncate(time.Microsecond)
	linkID := insertShortLink(t, ctx, db, "abc123", "https://example.com", "", true)

	t.Run("no destinations", func(t *testing.T) {
		dests, err := repo.DestinationsByPriority(ctx, linkID)

		assert.NoError(t, err)
		assert.Empty(t, dests)
	})

	t.Run("ordered by priority then id", func(t *testing.T) {
		backupID := insertDestination(t, ctx, db, linkID, 2, "https://backup.example.com", "broken", &now)
		primaryID := insertDestination(t, ctx, db, linkID, 1, "https://primary.example.com", "healthy", &now)
		lastID := insertDestination(t, ctx, db, linkID, 2, "https://last.example.com", "", nil)

		dests, err := repo.DestinationsByPriority(ctx, linkID)

		require.NoError(t, err)
		require.Len(t, dests, 3)

		assert.Equal(t, primaryID, dests[0].ID)
		assert.Equal(t, 1, dests[0].Priority)
		assert.Equal(t, models.HealthHealthy, dests[0].HealthStatus)
		require.NotNil(t, dests[0].LastHealthCheckAt)
		assert.WithinDuration(t, now, *dests[0].LastHealthCheckAt, time.Second)

		assert.Equal(t, backupID, dests[1].ID)
		assert.Equal(t, models.HealthBroken, dests[1].HealthStatus)

		assert.Equal(t, lastID, dests[2].ID)
		assert.Empty(t, dests[2].HealthStatus)
		assert.Nil(t, dests[2].LastHealthCheckAt)
	})
}

func TestRouteRepository_RecordClick(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()
	repo, db := setupRouteRepository(t)

	t.Run("success", func(t *testing.T) {
		err := repo.RecordClick(ctx, &models.ClickEvent{
			EventID:        "ev1",
			ShortCode:      "abc123",
			RoutingReason:  models.ReasonABTest,
			PriorityUsed:   0,
			Variant:        models.VariantA,
			ResponseTimeMs: 12,
		})
		require.NoError(t, err)

		var reason, variant string
		err = db.QueryRowContext(ctx,
			`SELECT routing_reason, variant FROM click_events WHERE event_id = $1`, "ev1",
		).Scan(&reason, &variant)

		require.NoError(t, err)
		assert.Equal(t, "ab_test", reason)
		assert.Equal(t, "a", variant)
	})

	t.Run("variant is null outside experiments", func(t *testing.T) {
		err := repo.RecordClick(ctx, &models.ClickEvent{
			EventID:        "ev2",
			ShortCode:      "abc123",
			RoutingReason:  models.ReasonFailsafe,
			PriorityUsed:   models.FailsafePriority,
			ResponseTimeMs: 3,
		})
		require.NoError(t, err)

		var variantIsNull bool
		err = db.QueryRowContext(ctx,
			`SELECT variant IS NULL FROM click_events WHERE event_id = $1`, "ev2",
		).Scan(&variantIsNull)

		require.NoError(t, err)
		assert.True(t, variantIsNull)
	})

	t.Run("duplicate event id", func(t *testing.T) {
		err := repo.RecordClick(ctx, &models.ClickEvent{
			EventID:       "ev1",
			ShortCode:     "abc123",
			RoutingReason: models.ReasonPrimary,
		})

		assert.Error(t, err)
	})
}
