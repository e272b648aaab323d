package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore is the durable Store backed by a local sqlite file.
type GormStore struct {
	db *gorm.DB
}

func OpenGorm(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Job{}, &Run{}, &Chunk{}); err != nil {
		return nil, fmt.Errorf("migrating job store: %w", err)
	}
	return &GormStore{db: db}, nil
}

// PutJob inserts or replaces a job. Intake-side helper, not part of Store.
func (s *GormStore) PutJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching job %s: %w", id, err)
	}
	return &job, nil
}

func (s *GormStore) TransitionJob(ctx context.Context, id string, status JobStatus, upd JobUpdate) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if upd.ResultRefID != "" {
		updates["result_ref_id"] = upd.ResultRefID
	}
	if upd.ReplyText != "" {
		updates["reply_text"] = upd.ReplyText
	}
	if upd.FailureReason != "" {
		updates["failure_reason"] = upd.FailureReason
	}
	res := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("transitioning job %s to %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) CreateRun(ctx context.Context, run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

func (s *GormStore) FinalizeRun(ctx context.Context, runID string, status RunStatus, fin RunFinal) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Run{}).
		Where("id = ? AND status = ?", runID, RunStatusInProgress).
		Updates(map[string]any{
			"status":         status,
			"exit_code":      fin.ExitCode,
			"failure_reason": fin.FailureReason,
			"reply_text":     fin.ReplyText,
			"finished_at":    &now,
		})
	if res.Error != nil {
		return fmt.Errorf("finalizing run %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s is not in progress", runID)
	}
	return nil
}

func (s *GormStore) AppendChunk(ctx context.Context, chunk *Chunk) error {
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(chunk).Error; err != nil {
		return fmt.Errorf("appending chunk %s: %w", chunk.ID, err)
	}
	return nil
}

func (s *GormStore) AncestorChain(ctx context.Context, jobID string, depth int) ([]*Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var chain []*Job
	for parent := job.ParentJobID; parent != "" && len(chain) < depth; {
		p, err := s.GetJob(ctx, parent)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
		parent = p.ParentJobID
	}
	return chain, nil
}
