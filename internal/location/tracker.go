package location

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
)

const (
	DefaultMaxAge = 5 * time.Minute
	// DefaultGeofence is the radius in meters within which a technician counts
	// as arrived.
	DefaultGeofence = 150.0
	earthRadiusM    = 6371000.0
)

var ErrInvalidFix = errors.New("coordinates out of range")

// Tracker keeps the latest device fix reported by the mobile shell. A fix
// older than maxAge is treated as missing.
type Tracker struct {
	mu        sync.RWMutex
	fix       *models.Location
	fixedAt   time.Time
	maxAge    time.Duration
	pending   bool
	requested int
	now       func() time.Time
}

func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// WithClock replaces the clock used to age fixes.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Update records a new fix and clears any pending request.
func (t *Tracker) Update(loc models.Location) error {
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 ||
		math.IsNaN(loc.Latitude) || math.IsNaN(loc.Longitude) {
		return ErrInvalidFix
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fix = &loc
	t.fixedAt = t.now()
	t.pending = false
	return nil
}

// Current returns the latest fix if it is fresh enough.
func (t *Tracker) Current() (models.Location, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.fix == nil || t.now().Sub(t.fixedAt) > t.maxAge {
		return models.Location{}, false
	}
	return *t.fix, true
}

// RequestFix asks the device shell for a fresh fix. The request stays
// pending until the next Update.
func (t *Tracker) RequestFix() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = true
	t.requested++
}

// Pending reports whether a fix was requested and not yet delivered.
func (t *Tracker) Pending() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending
}

// Requests counts RequestFix calls.
func (t *Tracker) Requests() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.requested
}

// Reset forgets the fix, used on logout.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fix = nil
	t.fixedAt = time.Time{}
	t.pending = false
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b models.Location) float64 {
	dLat := radians(b.Latitude - a.Latitude)
	dLng := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Latitude))*math.Cos(radians(b.Latitude))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Within reports whether at is no farther than radius meters from site.
func Within(at, site models.Location, radius float64) (bool, float64) {
	d := Distance(at, site)
	return d <= radius, d
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }
