// Package metrics holds the process-wide Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArchiveRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivebot_archive_runs_total",
		Help: "Archive runs by outcome (written, empty, fetch_failed, busy, error)",
	}, []string{"status"})

	ArchivedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivebot_archived_messages_total",
		Help: "Messages written to archive snapshots",
	}, []string{"guild"})

	SkippedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivebot_skipped_messages_total",
		Help: "Messages or attachments skipped with a counted warning",
	}, []string{"reason"})

	BackfillRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivebot_backfill_rows_total",
		Help: "Backfill records by result (inserted, skipped_no_author, invalid)",
	}, []string{"result"})

	AuditChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivebot_audit_checks_total",
		Help: "Audit check outcomes by severity",
	}, []string{"severity", "result"})
)

// Skip reasons.
const (
	ReasonNoAuthor          = "no_author"
	ReasonAttachmentFailure = "attachment_failure"
	ReasonLossyField        = "lossy_field"
)
