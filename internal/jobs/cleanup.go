package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type LapsedPurchaseExpirer interface {
	MarkExpired(ctx context.Context) (int64, error)
}

// CleanupJob deletes expired sessions and persists Expired on purchases whose
// coverage window has closed.
type CleanupJob struct {
	sessions  ExpiredSessionDeleter
	purchases LapsedPurchaseExpirer
	interval  time.Duration
	done      chan struct{}
}

func NewCleanupJob(sessions ExpiredSessionDeleter, purchases LapsedPurchaseExpirer, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions:  sessions,
		purchases: purchases,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	j.runCleanup(ctx, "sessions", j.sessions.DeleteExpired)
	j.runCleanup(ctx, "lapsed purchases", j.purchases.MarkExpired)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
