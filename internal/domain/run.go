package domain

import "time"

// RunStatus represents the outcome of a collection run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CollectionRun is the activity-log record written for every batch
// ingestion. Display of the log is handled elsewhere; this is only
// the durable trail.
type CollectionRun struct {
	ID         string     `gorm:"type:text;primaryKey" json:"id"`
	PageID     string     `gorm:"type:text;index" json:"page_id"`
	SourceID   string     `gorm:"type:text;index" json:"source_id"`
	Status     RunStatus  `gorm:"default:running" json:"status"`
	Collected  int        `gorm:"default:0" json:"collected"`
	Skipped    int        `gorm:"default:0" json:"skipped"`
	Failed     int        `gorm:"default:0" json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorLog   string     `json:"error_log,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for CollectionRun.
func (CollectionRun) TableName() string {
	return "collection_runs"
}
