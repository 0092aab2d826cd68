// Package history implements duraq's JobHistoryStore: a durable,
// append-only audit log of job lifecycle events, independent of the
// ephemeral Redis queue state. Rows are written through Store.Append
// (nothing in this repository subscribes Activity to Append) and read
// by the admin API's history endpoint. Grounded on the example pack's GORM/Postgres
// job store, repurposed from a mutable job/execution table into a
// write-once event log.
package history

import (
	"time"

	"github.com/google/uuid"
)

// EventKind mirrors queue.ActivityKind without importing pkg/queue, so
// this package stays usable independently of the in-memory queue types.
type EventKind string

const (
	EventEnqueued     EventKind = "enqueued"
	EventClaimed      EventKind = "claimed"
	EventAcknowledged EventKind = "acknowledged"
	EventRescheduled  EventKind = "rescheduled"
	EventFailed       EventKind = "failed"
	EventTimedOut     EventKind = "timed_out"
)

// Event is one append-only row in the job_history table.
type Event struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Tenant      string    `gorm:"index:idx_history_job,priority:1"`
	Queue       string    `gorm:"index:idx_history_job,priority:2"`
	JobID       string    `gorm:"column:job_id;index:idx_history_job,priority:3"`
	Fingerprint string    `gorm:"index"`
	Kind        EventKind
	OccurredAt  time.Time `gorm:"index"`
}

// TableName pins the GORM table name so it reads like a deliberate
// schema choice rather than a pluralized struct name.
func (Event) TableName() string { return "job_history" }
