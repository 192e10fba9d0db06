package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/vadimbarashkov/link-router/internal/metrics"
	"github.com/vadimbarashkov/link-router/internal/models"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// defaultStoreTimeout bounds every individual store lookup so a slow
	// query cannot blow the routing latency budget.
	defaultStoreTimeout = 50 * time.Millisecond

	// sideEffectTimeout bounds detached writes (variant clicks, click
	// events), which run outside the request lifetime.
	sideEffectTimeout = 2 * time.Second
)

// RouteStore defines the store contracts the router reads routing state
// from. A nil result with a nil error means "none found" for the schedule
// and A/B test lookups.
type RouteStore interface {
	// ActiveShortLinkByCode resolves a short code to its active link.
	// Returns database.ErrShortLinkNotFound for missing or inactive links.
	ActiveShortLinkByCode(ctx context.Context, shortCode string) (*models.ShortLink, error)

	// ActiveSchedule returns the schedule whose window contains now, or nil.
	ActiveSchedule(ctx context.Context, shortLinkID int64, now time.Time) (*models.Schedule, error)

	// RunningABTest returns the running experiment for the link, or nil.
	RunningABTest(ctx context.Context, shortLinkID int64) (*models.ABTest, error)

	// IncrementVariantClicks bumps the chosen variant's counter. Best-effort.
	IncrementVariantClicks(ctx context.Context, testID int64, variant models.Variant) error

	// DestinationsByPriority lists destinations ordered by ascending priority.
	DestinationsByPriority(ctx context.Context, shortLinkID int64) ([]*models.Destination, error)

	// RecordClick stores the analytics record of a decision. Best-effort.
	RecordClick(ctx context.Context, event *models.ClickEvent) error
}

// Router resolves clicks on short links through the routing waterfall:
// schedule override, then A/B test, then the priority-ordered destination
// walk, then the link's failsafe URL. Precedence is strict; the first branch
// that commits wins.
//
// The router holds no mutable state of its own. All routing state lives in
// the store, so concurrent invocations need no coordination.
type Router struct {
	store        RouteStore
	logger       *slog.Logger
	storeTimeout time.Duration

	// randFloat returns a draw in [0, 1). Injectable so tests can pin the
	// A/B assignment and a sticky per-visitor scheme can be swapped in
	// without touching the control flow.
	randFloat func() float64
	// now is the clock used for schedule windows and health cache ages.
	now func() time.Time
	// spawn runs detached side effects. The default starts a goroutine;
	// tests substitute an inline runner.
	spawn func(func())
}

// NewRouter creates a Router on top of the given store. A non-positive
// storeTimeout falls back to the 50ms default.
func NewRouter(store RouteStore, logger *slog.Logger, storeTimeout time.Duration) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}

	return &Router{
		store:        store,
		logger:       logger,
		storeTimeout: storeTimeout,
		randFloat:    rand.Float64,
		now:          time.Now,
		spawn:        func(fn func()) { go fn() },
	}
}

// Route resolves a single click. incomingURL is the full request URL as seen
// by the edge handler; its query parameters are carried onto whichever
// destination wins.
//
// The only error surfaced to callers is a failed short-link resolve. Every
// failure past that point degrades toward the failsafe URL, because leaving
// a paid click unredirected is the worst possible outcome.
func (r *Router) Route(ctx context.Context, shortCode, incomingURL string) (*models.RouteResult, error) {
	const op = "service.Router.Route"

	start := time.Now()

	lookupCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	link, err := r.store.ActiveShortLinkByCode(lookupCtx, shortCode)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to resolve short link: %w", op, err)
	}

	now := r.now()

	// A currently-active schedule is a hard override: flash-sale behavior
	// that wins regardless of experiments or destination health.
	if sched := r.activeSchedule(ctx, link.ID, now); sched != nil {
		return r.finish(start, shortCode, sched.DestinationURL, incomingURL, 0, models.ReasonScheduled, ""), nil
	}

	if test := r.runningABTest(ctx, link.ID); test != nil {
		variant, variantURL := pickVariant(test, r.randFloat())

		testID := test.ID
		r.detach("increment variant clicks", func(ctx context.Context) error {
			return r.store.IncrementVariantClicks(ctx, testID, variant)
		})

		return r.finish(start, shortCode, variantURL, incomingURL, 0, models.ReasonABTest, variant), nil
	}

	for _, dest := range r.destinations(ctx, link.ID) {
		if !IsUsable(dest, now) {
			continue
		}

		reason := models.ReasonFallback
		if dest.Priority == 1 {
			reason = models.ReasonPrimary
		}

		return r.finish(start, shortCode, dest.URL, incomingURL, dest.Priority, reason, ""), nil
	}

	failsafeURL := link.FallbackURL
	if failsafeURL == "" {
		failsafeURL = link.OriginalURL
	}

	return r.finish(start, shortCode, failsafeURL, incomingURL, models.FailsafePriority, models.ReasonFailsafe, ""), nil
}

// activeSchedule treats a failed or timed-out lookup as "no override" so
// the waterfall can still answer the click.
func (r *Router) activeSchedule(ctx context.Context, shortLinkID int64, now time.Time) *models.Schedule {
	lookupCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	sched, err := r.store.ActiveSchedule(lookupCtx, shortLinkID, now)
	if err != nil {
		r.logger.Warn("schedule lookup failed, continuing without override",
			slog.Int64("short_link_id", shortLinkID), slog.Any("err", err))
		return nil
	}

	return sched
}

func (r *Router) runningABTest(ctx context.Context, shortLinkID int64) *models.ABTest {
	lookupCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	test, err := r.store.RunningABTest(lookupCtx, shortLinkID)
	if err != nil {
		r.logger.Warn("ab test lookup failed, continuing without experiment",
			slog.Int64("short_link_id", shortLinkID), slog.Any("err", err))
		return nil
	}

	return test
}

func (r *Router) destinations(ctx context.Context, shortLinkID int64) []*models.Destination {
	lookupCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	dests, err := r.store.DestinationsByPriority(lookupCtx, shortLinkID)
	if err != nil {
		r.logger.Warn("destination lookup failed, falling through to failsafe",
			slog.Int64("short_link_id", shortLinkID), slog.Any("err", err))
		return nil
	}

	return dests
}

// pickVariant performs a single uniform draw in [0, 100) against the A
// weight. The trial is stateless per request; repeat visitors may see
// different variants.
func pickVariant(test *models.ABTest, draw float64) (models.Variant, string) {
	if draw*100 < float64(test.VariantAWeight) {
		return models.VariantA, test.VariantAURL
	}

	return models.VariantB, test.VariantBURL
}

// finish assembles the result for the winning branch: parameter
// preservation, timing, metrics, and the detached click event.
func (r *Router) finish(start time.Time, shortCode, rawURL, incomingURL string, priority int, reason models.RoutingReason, variant models.Variant) *models.RouteResult {
	destinationURL := PreserveParams(incomingURL, rawURL)
	elapsed := time.Since(start)

	metrics.RouteDuration.WithLabelValues(string(reason)).Observe(elapsed.Seconds())
	if reason == models.ReasonFailsafe {
		metrics.FailsafeRoutesTotal.Inc()
	}

	event := &models.ClickEvent{
		ShortCode:      shortCode,
		RoutingReason:  reason,
		PriorityUsed:   priority,
		Variant:        variant,
		ResponseTimeMs: elapsed.Milliseconds(),
	}

	eventID, err := gonanoid.New()
	if err != nil {
		r.logger.Warn("failed to generate click event id", slog.Any("err", err))
	} else {
		event.EventID = eventID
		r.detach("record click", func(ctx context.Context) error {
			return r.store.RecordClick(ctx, event)
		})
	}

	return &models.RouteResult{
		DestinationURL: destinationURL,
		PriorityUsed:   priority,
		RoutingReason:  reason,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
}

// detach runs fn outside the request path with its own deadline. Failures
// are counted and logged, never surfaced; an occasional lost write is the
// accepted trade for never delaying a redirect.
func (r *Router) detach(op string, fn func(context.Context) error) {
	r.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			metrics.SideEffectFailuresTotal.Inc()
			r.logger.Warn("detached side effect failed",
				slog.String("op", op), slog.Any("err", err))
		}
	})
}
