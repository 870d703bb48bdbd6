package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
)

// ErrClaimExpired is recorded on reports that stayed in Processing longer
// than the stale threshold, typically because the worker holding the claim
// died before saving an outcome.
var ErrClaimExpired = errors.New("processing claim expired before an outcome was saved")

// RecoverStale marks Failed every report that has been in Processing
// without a write for longer than staleAfter, so `relief process <id>` can
// claim it again. The save is versioned: a worker that finishes first wins
// and its report is left alone. It returns the number of reports recovered.
func (r *Runner) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		return 0, nil
	}

	now := r.pipeline.now().UTC()
	stale, err := r.pipeline.repo.Find(ctx, triage.Filter{
		Status:        triage.StatusProcessing,
		UpdatedBefore: now.Add(-staleAfter),
	}, triage.FindOptions{Sort: triage.SortCreatedAtAsc})
	if err != nil {
		return 0, fmt.Errorf("failed to select stale reports: %w", err)
	}

	recovered := 0
	for _, report := range stale {
		failed := triage.MarkFailed(report, triage.StageRecovery, ErrClaimExpired, now)
		if _, err := r.pipeline.repo.Save(ctx, failed); err != nil {
			if rferrors.IsConflict(err) || rferrors.IsNotFound(err) {
				continue
			}
			return recovered, fmt.Errorf("failed to save recovered report %s: %w", report.ID, err)
		}
		recovered++
		r.logger.Warn("Recovered stale report",
			logging.F("report_id", report.ID),
			logging.F("claimed_at", report.UpdatedAt),
			logging.F("stale_after", staleAfter.String()))
	}
	return recovered, nil
}
