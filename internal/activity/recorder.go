// Package activity keeps the durable trail of collection runs.
// Rendering the log is out of scope; this only records enough context
// to diagnose per-item failures after the fact.
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tobyh/feedvault/internal/domain"
)

// Recorder writes collection runs to the cache database.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder on top of an opened cache database.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Begin opens a run entry for a batch.
func (r *Recorder) Begin(ctx context.Context, pageID, sourceID string) (*Run, error) {
	run := &domain.CollectionRun{
		ID:        uuid.New().String(),
		PageID:    pageID,
		SourceID:  sourceID,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	return &Run{recorder: r, run: run}, nil
}

// Recent lists the latest runs, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]domain.CollectionRun, error) {
	var runs []domain.CollectionRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// Run is one in-progress collection run entry.
type Run struct {
	recorder *Recorder
	run      *domain.CollectionRun
	failures []string
}

// ID returns the run's identifier.
func (a *Run) ID() string {
	return a.run.ID
}

// ItemFailed appends one per-item failure with the record's identity
// and the error text.
func (a *Run) ItemFailed(originURL string, err error) {
	a.failures = append(a.failures, fmt.Sprintf("%s: %v", originURL, err))
}

// Finish closes the run entry with its summary.
func (a *Run) Finish(ctx context.Context, summary *domain.Summary) error {
	now := time.Now()
	a.run.Status = domain.RunStatusCompleted
	if summary.Failed > 0 {
		a.run.Status = domain.RunStatusFailed
	}
	a.run.Collected = summary.Collected
	a.run.Skipped = summary.Skipped
	a.run.Failed = summary.Failed
	a.run.FinishedAt = &now
	a.run.ErrorLog = strings.Join(a.failures, "\n")
	return a.recorder.db.WithContext(ctx).Save(a.run).Error
}
