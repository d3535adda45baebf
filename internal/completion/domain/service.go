// Package domain defines the load completion orchestrator: the fixed
// sequence of back-office steps that fires once a load is delivered.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrLoadNotFound = errors.New("load_not_found")
	ErrNotDelivered = errors.New("load_not_delivered")
)

// StageError records one failed stage. Stages fail independently; the
// sequence always runs to the end.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Result reports one completion pass. Success means no stage errored;
// skipped stages (already in target state) count as success.
type Result struct {
	LoadID  snowflake.ID `json:"load_id"`
	Success bool         `json:"success"`
	Errors  []StageError `json:"errors,omitempty"`
}

type Service interface {
	// CompleteLoad is safe to re-invoke: every stage re-checks current
	// state and treats "already done" as success.
	CompleteLoad(ctx context.Context, companyID, loadID snowflake.ID) (Result, error)
}
