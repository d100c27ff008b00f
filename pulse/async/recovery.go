package async

import (
	"context"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/store"
)

// MaxOrphanedRunsToRecover caps how many stale RUNNING records one start
// will fail.
const MaxOrphanedRunsToRecover = 1000

// recoverOrphans fails RUNNING records that no run of this process owns.
// They were left by a process that died without writing a terminal status.
func (e *Engine) recoverOrphans(ctx context.Context) (int, error) {
	docs, err := e.history.FindMany(ctx,
		store.Filter{job.KeyStatus: int(job.RunRunning)},
		store.FindOptions{Sort: []store.SortField{store.Asc(job.KeyRunID)}, Limit: MaxOrphanedRunsToRecover})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running records")
	}
	if len(docs) == 0 {
		return 0, nil
	}

	e.log.Starting("Found runs orphaned by a previous shutdown", logger.FieldCount, len(docs))

	recovered := 0
	endTime := job.Now()
	for _, doc := range docs {
		var rec job.RunRecord
		if err := doc.Decode(&rec); err != nil {
			e.log.Warnw("Skipping undecodable run record", logger.FieldError, err)
			continue
		}
		if e.inflight.has(rec.RunId) {
			continue
		}

		rec.Status = job.RunFailed
		rec.EndTime = endTime
		rec.Output = OrphanedOutput
		n, err := e.history.UpdateIf(ctx, rec, job.KeyRunID, store.Filter{job.KeyStatus: int(job.RunRunning)})
		if err != nil {
			e.log.Warnw("Failed to recover orphaned run",
				logger.FieldRunID, rec.RunId,
				logger.FieldError, err)
			continue
		}
		if n == 0 {
			// Its owner finished it since the listing
			continue
		}
		recovered++
		e.metrics.Orphaned.Inc()
		e.log.Starting("Recovered orphaned run",
			logger.FieldJobID, rec.JobId,
			logger.FieldRunID, rec.RunId)
	}
	return recovered, nil
}
