// Package domain defines the accounting sync coordinator, which pushes
// delivered loads into the external ledger and tracks each load's sync
// state.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// SyncResult reports one load's sync outcome. Validation failures carry
// the error list and are not retried; transport failures are retried
// before the load is marked SYNC_FAILED.
type SyncResult struct {
	LoadID  snowflake.ID `json:"load_id"`
	Success bool         `json:"success"`
	Errors  []string     `json:"errors,omitempty"`
}

// Stats are the read-only sync counters for a company.
type Stats struct {
	Total          int64 `json:"total"`
	Synced         int64 `json:"synced"`
	Pending        int64 `json:"pending"`
	Failed         int64 `json:"failed"`
	RequiresReview int64 `json:"requires_review"`
	NotSynced      int64 `json:"not_synced"`
}

// RetrySummary reports a bulk remediation pass.
type RetrySummary struct {
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Results   []SyncResult `json:"results"`
}

type Service interface {
	SyncLoadToAccounting(ctx context.Context, companyID, loadID snowflake.ID) (SyncResult, error)
	SyncBatchLoads(ctx context.Context, companyID snowflake.ID, loadIDs []snowflake.ID) ([]SyncResult, error)
	RetryFailedSyncs(ctx context.Context, companyID snowflake.ID) (RetrySummary, error)
	GetSyncStatistics(ctx context.Context, companyID snowflake.ID) (Stats, error)
}
