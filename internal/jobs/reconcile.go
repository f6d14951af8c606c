package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatepass/access-server/internal/model"
)

// LogQueue holds access log entries that could not be written when the
// visitor was admitted.
type LogQueue interface {
	Push(ctx context.Context, entry *model.AccessLog) error
	Pop(ctx context.Context) (*model.AccessLog, error)
	Len(ctx context.Context) (int64, error)
}

type LogWriter interface {
	Write(ctx context.Context, entry *model.AccessLog) error
}

// ReconcileJob replays parked access log entries into the ledger.
type ReconcileJob struct {
	queue    LogQueue
	writer   LogWriter
	interval time.Duration
	batch    int
	done     chan struct{}
}

func NewReconcileJob(queue LogQueue, writer LogWriter, interval time.Duration, batch int) *ReconcileJob {
	if batch <= 0 {
		batch = 100
	}
	return &ReconcileJob{
		queue:    queue,
		writer:   writer,
		interval: interval,
		batch:    batch,
		done:     make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("access log reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("access log reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.reconcile()

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
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	written, err := j.ReconcileOnce(ctx)
	if err != nil {
		log.Error().Err(err).Int("written", written).Msg("access log reconciliation stopped early")
		return
	}
	if written > 0 {
		log.Info().Int("count", written).Msg("reconciled parked access logs")
	}
}

// ReconcileOnce drains up to one batch. An entry that still cannot be
// written goes back on the queue and the pass ends.
func (j *ReconcileJob) ReconcileOnce(ctx context.Context) (int, error) {
	written := 0
	for written < j.batch {
		entry, err := j.queue.Pop(ctx)
		if err != nil {
			return written, err
		}
		if entry == nil {
			return written, nil
		}

		if err := j.writer.Write(ctx, entry); err != nil {
			if pushErr := j.queue.Push(context.WithoutCancel(ctx), entry); pushErr != nil {
				log.Error().Err(pushErr).Str("logId", entry.ID).Msg("lost parked access log")
			}
			return written, err
		}
		written++
	}
	return written, nil
}
