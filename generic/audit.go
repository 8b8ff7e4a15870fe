package generic

import "time"

// =============================================================================
// AUDIT LOG - Separate from the ledger, tracks who did what when
// =============================================================================

// AuditEntry records a lifecycle action on a month. Append-only.
type AuditEntry struct {
	ID     string
	At     time.Time
	School SchoolID
	Month  MonthKey
	Actor  string
	Action AuditAction
	Detail string
}

type AuditAction string

const (
	AuditMonthCompleted  AuditAction = "month_completed"
	AuditMonthReopened   AuditAction = "month_reopened"
	AuditMonthLocked     AuditAction = "month_locked"
	AuditMonthUnlocked   AuditAction = "month_unlocked"
	AuditOpeningCarried  AuditAction = "opening_carried_forward"
	AuditReportGenerated AuditAction = "report_generated"
	AuditConfigSaved     AuditAction = "config_saved"
)
