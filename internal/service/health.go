package service

import (
	"time"

	"github.com/vadimbarashkov/link-router/internal/models"
)

const (
	// primaryRetryWindow is how long a cached bad status keeps the primary
	// destination out of rotation. The primary is usually the
	// highest-commission link, so it is re-probed aggressively.
	primaryRetryWindow = 5 * time.Minute

	// backupRetryWindow is the window for every non-primary destination.
	backupRetryWindow = time.Hour
)

// IsUsable decides whether a destination can take traffic right now, from
// its cached health state alone. Pure; no I/O.
//
// Unchecked destinations get the benefit of the doubt, and a bad status is
// discounted once it outlives its retry window: stale negative information
// must not strand traffic on a backup when the primary may have recovered.
// The real health check runs asynchronously and corrects the cache.
func IsUsable(dest *models.Destination, now time.Time) bool {
	switch dest.HealthStatus {
	case models.HealthHealthy:
		return true
	case "", models.HealthUnknown:
		return true
	case models.HealthBroken, models.HealthOutOfStock:
		if dest.LastHealthCheckAt == nil {
			return true
		}

		window := backupRetryWindow
		if dest.Priority == 1 {
			window = primaryRetryWindow
		}

		return now.Sub(*dest.LastHealthCheckAt) > window
	default:
		// Unrecognized status values stay out of rotation.
		return false
	}
}
