package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"TechNotesScanner/internal/domain"
)

// SaveJob upserts a job definition.
func (s *Store) SaveJob(ctx context.Context, def *domain.JobDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("job definition ID is required")
	}
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	if err := s.store.Upsert(def.ID, def); err != nil {
		return fmt.Errorf("failed to save job definition: %w", err)
	}
	return nil
}

// GetJob loads a job definition by id.
func (s *Store) GetJob(ctx context.Context, id string) (domain.JobDefinition, error) {
	var def domain.JobDefinition
	if err := s.store.Get(id, &def); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.JobDefinition{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
		}
		return domain.JobDefinition{}, fmt.Errorf("failed to get job definition: %w", err)
	}
	return def, nil
}

// DeleteJob removes a job definition. Deleting a missing job is not an error.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if err := s.store.Delete(id, &domain.JobDefinition{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete job definition: %w", err)
	}
	return nil
}

// ListJobs returns every job definition ordered by id.
func (s *Store) ListJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	var defs []domain.JobDefinition
	if err := s.store.Find(&defs, nil); err != nil {
		return nil, fmt.Errorf("failed to list job definitions: %w", err)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// SaveExecution upserts one execution record.
func (s *Store) SaveExecution(ctx context.Context, exec *domain.JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if err := s.store.Upsert(exec.ID, exec); err != nil {
		return fmt.Errorf("failed to save job execution: %w", err)
	}
	return nil
}

// ListExecutions returns the newest executions first. An empty jobID lists all jobs.
func (s *Store) ListExecutions(ctx context.Context, jobID string, limit int) ([]domain.JobExecution, error) {
	var query *badgerhold.Query
	if jobID != "" {
		query = badgerhold.Where("JobID").Eq(jobID)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}
	query = query.SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var execs []domain.JobExecution
	if err := s.store.Find(&execs, query); err != nil {
		return nil, fmt.Errorf("failed to list job executions: %w", err)
	}
	return execs, nil
}

// FailRunningExecutions finalizes executions a previous process left running.
func (s *Store) FailRunningExecutions(ctx context.Context, reason string) (int, error) {
	var execs []domain.JobExecution
	if err := s.store.Find(&execs, badgerhold.Where("Status").Eq(domain.ExecutionRunning)); err != nil {
		return 0, fmt.Errorf("failed to find running executions: %w", err)
	}

	now := time.Now()
	for i := range execs {
		exec := execs[i]
		exec.Status = domain.ExecutionFailed
		exec.Error = reason
		exec.CompletedAt = &now
		exec.Duration = now.Sub(exec.StartedAt)
		if err := s.store.Update(exec.ID, &exec); err != nil {
			return i, fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
		}
	}
	return len(execs), nil
}
