package models

import (
	"fmt"
	"time"
)

// Operation is a closed set of sync operations. String-typed so it reads
// well in SQLite rows and log lines, but construction goes through
// ParseOperation to keep the set closed.
type Operation string

const (
	OpCreate    Operation = "CREATE"
	OpUpdate    Operation = "UPDATE"
	OpDelete    Operation = "DELETE"
	OpReconcile Operation = "RECONCILE"
)

// ParseOperation validates a raw operation string.
func ParseOperation(raw string) (Operation, error) {
	switch Operation(raw) {
	case OpCreate, OpUpdate, OpDelete, OpReconcile:
		return Operation(raw), nil
	}
	return "", fmt.Errorf("unknown operation: %q", raw)
}

// SyncRecord statuses.
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
	SyncStatusDeleted = "deleted"
)

// Log entry statuses.
const (
	LogStatusSuccess = "SUCCESS"
	LogStatusFailed  = "FAILED"
	LogStatusPending = "PENDING"
)

// SyncRecord is the per-product sync state row. One row per product,
// created on the first attempt and updated in place afterwards; rows are
// marked deleted, never removed.
type SyncRecord struct {
	ID           int64      `json:"id"`
	ProductID    string     `json:"product_id"`
	RetailerID   string     `json:"retailer_id"`
	ExternalID   string     `json:"external_id,omitempty"`
	Status       string     `json:"status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	RetryCount   int        `json:"retry_count"`
	// Terminal marks a failure retrying cannot fix (validation, missing
	// product). Terminal records are excluded from automatic retries
	// until the next explicit sync attempt.
	Terminal  bool      `json:"terminal"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncLogEntry is one append-only audit row per attempted operation.
type SyncLogEntry struct {
	ID         int64     `json:"id"`
	ProductID  string    `json:"product_id"`
	RetailerID string    `json:"retailer_id"`
	Operation  Operation `json:"operation"`
	Status     string    `json:"status"`
	Request    string    `json:"request,omitempty"`
	Response   string    `json:"response,omitempty"`
	Error      *string   `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeadLetterItem is a durable snapshot of a product that exhausted its
// retry budget. Resolved is monotonic: once true it never reverts.
type DeadLetterItem struct {
	ID         int64      `json:"id"`
	ProductID  string     `json:"product_id"`
	RetailerID string     `json:"retailer_id"`
	Operation  Operation  `json:"operation"`
	Payload    string     `json:"payload,omitempty"`
	Error      string     `json:"error"`
	RetryCount int        `json:"retry_count"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ReconciliationResult summarizes one reconciliation run. Ephemeral; the
// durable trace is the RECONCILE audit row.
type ReconciliationResult struct {
	Total    int           `json:"total"`
	Missing  int           `json:"missing_in_meta"`
	Orphaned int           `json:"orphaned_in_meta"`
	Stale    int           `json:"stale_in_meta"`
	Fixed    int           `json:"fixed"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
	RanAt    time.Time     `json:"ran_at"`
}

// Mismatches is the count that drives the high-priority alert threshold.
func (r ReconciliationResult) Mismatches() int {
	return r.Missing + r.Orphaned
}

// SyncStatusSummary is the read-model returned by the status endpoint.
type SyncStatusSummary struct {
	Total          int          `json:"total"`
	Pending        int          `json:"pending"`
	Synced         int          `json:"synced"`
	Failed         int          `json:"failed"`
	Deleted        int          `json:"deleted"`
	DeadLetters    int          `json:"dead_letters"`
	RecentFailures []SyncRecord `json:"recent_failures,omitempty"`
}
