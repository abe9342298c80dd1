// Package status reports the health of the vector store and the size of the corpus.
package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/vector"
	"github.com/hyperjump/callscope/pkg/utils"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	defaultCheckTimeout = 5 * time.Second
)

// DiskUsager is implemented by stores that live in local files.
type DiskUsager interface {
	DiskUsage() (int64, error)
}

// Reporter builds status snapshots. It remembers when the store first became
// unavailable and keeps reporting that time and the last error until a check succeeds.
type Reporter struct {
	store          vector.Store
	embeddingModel string
	callsEnabled   bool
	timeout        time.Duration
	logger         *zap.Logger
	now            func() time.Time

	mu               sync.Mutex
	unavailableSince *time.Time
	lastErr          string
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithLogger sets the reporter logger.
func WithLogger(l *zap.Logger) ReporterOption {
	return func(r *Reporter) { r.logger = l }
}

// WithTimeout bounds each store check.
func WithTimeout(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a reporter for store.
func NewReporter(store vector.Store, embeddingModel string, callsEnabled bool, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		store:          store,
		embeddingModel: embeddingModel,
		callsEnabled:   callsEnabled,
		timeout:        defaultCheckTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// Check queries the store and returns a snapshot. It never fails; store errors are
// reported in the snapshot.
func (r *Reporter) Check(ctx context.Context) *models.Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.now().UTC()
	st := &models.Status{
		Status:         StatusDegraded,
		Store:          r.store.Backend(),
		Collection:     r.store.Collection(),
		EmbeddingModel: r.embeddingModel,
		CallsEnabled:   r.callsEnabled,
		CheckedAt:      now,
	}

	health, err := r.store.Health(ctx)
	if err == nil && health == models.HealthConnected {
		st.PointsCount, err = r.store.Count(ctx)
	}
	if err != nil {
		health = models.HealthUnavailable
	}
	st.StoreStatus = health

	r.mu.Lock()
	if health == models.HealthUnavailable {
		if r.unavailableSince == nil {
			since := now
			r.unavailableSince = &since
			r.logger.Warn("vector store unavailable", zap.String("store", st.Store), zap.Error(err))
		}
		if err != nil {
			r.lastErr = err.Error()
		}
		since := *r.unavailableSince
		st.UnavailableSince = &since
		st.LastError = r.lastErr
	} else {
		if r.unavailableSince != nil {
			r.logger.Info("vector store recovered",
				zap.String("store", st.Store),
				zap.Duration("down_for", now.Sub(*r.unavailableSince)))
		}
		r.unavailableSince = nil
		r.lastErr = ""
	}
	r.mu.Unlock()

	if health == models.HealthConnected {
		st.Status = StatusOK
	}
	if du, ok := r.store.(DiskUsager); ok {
		if n, err := du.DiskUsage(); err == nil {
			st.DiskUsageBytes = n
		} else {
			r.logger.Debug("disk usage failed", zap.Error(err))
		}
	}
	return st
}
