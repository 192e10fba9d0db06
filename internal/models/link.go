package models

import "time"

// HealthStatus is the cached health state of a destination, written
// asynchronously by the health-checking worker. An empty value means the
// destination has never been classified.
type HealthStatus string

const (
	HealthHealthy    HealthStatus = "healthy"
	HealthBroken     HealthStatus = "broken"
	HealthOutOfStock HealthStatus = "out_of_stock"
	HealthUnknown    HealthStatus = "unknown"
)

// RoutingReason records which branch of the waterfall produced a decision.
type RoutingReason string

const (
	ReasonScheduled RoutingReason = "scheduled"
	ReasonABTest    RoutingReason = "ab_test"
	ReasonPrimary   RoutingReason = "primary"
	ReasonFallback  RoutingReason = "fallback"
	ReasonFailsafe  RoutingReason = "failsafe"
)

// Variant identifies one arm of an A/B test.
type Variant string

const (
	VariantA Variant = "a"
	VariantB Variant = "b"
)

// FailsafePriority is the sentinel priority reported when no ranked
// destination was used and the link's failsafe URL answered the click.
const FailsafePriority = 999

// ShortLink is a user-configured short URL. The router only ever reads it;
// links are deactivated instead of deleted.
type ShortLink struct {
	// ID is the unique identifier of the short link record.
	ID int64
	// ShortCode is the URL-safe token visitors click.
	ShortCode string
	// OriginalURL is the destination the link was created for.
	OriginalURL string
	// FallbackURL is the preferred last-resort destination when no ranked
	// destination is usable. May be empty, in which case OriginalURL is used.
	FallbackURL string
	// IsActive gates routing; inactive links resolve as not found.
	IsActive bool
	// CreatedAt is when the short link was created.
	CreatedAt time.Time
	// UpdatedAt is when the short link was last modified.
	UpdatedAt time.Time
}

// Destination is one candidate target URL in a short link's priority-ordered
// fallback chain. Priority 1 is the primary destination.
type Destination struct {
	ID          int64
	ShortLinkID int64
	Priority    int
	URL         string
	// HealthStatus is empty when the destination has never been checked.
	HealthStatus HealthStatus
	// LastHealthCheckAt is nil when no check has run yet.
	LastHealthCheckAt *time.Time
}

// Schedule is a time-window override tied to a short link. While active it
// wins over A/B tests and the destination waterfall.
type Schedule struct {
	ID             int64
	ShortLinkID    int64
	DestinationURL string
	StartsAt       time.Time
	EndsAt         time.Time
	CreatedAt      time.Time
}

// ABTest is a two-variant split test on a short link. The router increments
// the chosen variant's click counter best-effort.
type ABTest struct {
	ID             int64
	ShortLinkID    int64
	Status         string
	VariantAURL    string
	VariantBURL    string
	VariantAWeight int
	VariantBWeight int
	VariantAClicks int64
	VariantBClicks int64
}

// RouteResult is the outcome of a single routing request. It is created
// fresh per request and discarded once the caller has issued the redirect.
type RouteResult struct {
	// DestinationURL is the final URL after parameter preservation.
	DestinationURL string
	// PriorityUsed is 0 for override branches (schedule, A/B test), the
	// destination's priority for waterfall hits, and FailsafePriority when
	// the failsafe URL answered.
	PriorityUsed int
	// RoutingReason names the branch that produced the decision.
	RoutingReason RoutingReason
	// ResponseTimeMs is wall-clock time from entry to exit of the router.
	ResponseTimeMs int64
}

// ClickEvent is the best-effort analytics record emitted for every routing
// decision.
type ClickEvent struct {
	ID             int64
	EventID        string
	ShortCode      string
	RoutingReason  RoutingReason
	PriorityUsed   int
	Variant        Variant
	ResponseTimeMs int64
	CreatedAt      time.Time
}
