package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// ReconcileJob resolves pending registry submissions on every tick. Ticks
// never overlap: a slow pass delays the next one.
type ReconcileJob struct {
	reconciler Reconciler
	interval   time.Duration
	timeout    time.Duration
	done       chan struct{}
	stopped    chan struct{}
}

func NewReconcileJob(reconciler Reconciler, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{
		reconciler: reconciler,
		interval:   interval,
		timeout:    2 * interval,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconcile job started")
}

// Stop waits for an in-flight pass to finish.
func (j *ReconcileJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reconcile()
		}
	}
}

func (j *ReconcileJob) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	resolved, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to reconcile registry submissions")
		return
	}
	if resolved > 0 {
		log.Info().Int("count", resolved).Msg("resolved registry submissions")
	}
}
