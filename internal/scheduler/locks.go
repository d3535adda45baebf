package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	obsmetrics "github.com/adrijusxx/linehaul/internal/observability/metrics"
)

// WorkLoad is the slim projection the scheduler claims work by.
type WorkLoad struct {
	ID        snowflake.ID
	CompanyID snowflake.ID
}

// fetchLoadsForGapSweep claims delivered loads not yet swept and stamps
// them inside the claiming transaction, so concurrent schedulers never
// sweep the same load twice.
func (s *Scheduler) fetchLoadsForGapSweep(ctx context.Context, limit int) ([]WorkLoad, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	var loads []WorkLoad
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		q := `SELECT id, company_id FROM loads
		      WHERE status = ? AND gap_checked_at IS NULL
		      ORDER BY id`
		if tx.Dialector.Name() != "sqlite" {
			q += ` FOR UPDATE SKIP LOCKED`
		}
		q += ` LIMIT ?`

		lockStart := time.Now()
		err := tx.Raw(q, loaddomain.LoadStatusDelivered, limit).Scan(&loads).Error
		schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceLoadsForWork, time.Since(lockStart))
		if err != nil {
			return err
		}
		if len(loads) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(loads))
		for _, l := range loads {
			ids = append(ids, l.ID)
		}
		return tx.Exec(
			`UPDATE loads SET gap_checked_at = ?, updated_at = ? WHERE id IN ?`,
			s.clock.Now(), s.clock.Now(), ids,
		).Error
	})
	if err != nil {
		return nil, err
	}
	return loads, nil
}

// fetchLoadsPendingSync lists loads whose hold was cleared or whose sync
// is otherwise queued. No claim is needed: the sync itself moves the load
// out of PENDING_SYNC.
func (s *Scheduler) fetchLoadsPendingSync(ctx context.Context, limit int) ([]WorkLoad, error) {
	var loads []WorkLoad
	err := s.db.WithContext(ctx).
		Raw(`SELECT id, company_id FROM loads
		     WHERE accounting_sync_status = ?
		     ORDER BY updated_at, id LIMIT ?`,
			loaddomain.SyncStatusPendingSync, limit).
		Scan(&loads).Error
	return loads, err
}
