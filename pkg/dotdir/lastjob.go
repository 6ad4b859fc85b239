package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lastJobFile = "last_job.json"
)

// LastJob records the most recent ingestion job submitted from this machine.
type LastJob struct {
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	APITarget   string    `json:"api_target,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// LoadLastJob loads the last job from a target .stacks/last_job.json.
// Returns nil, nil if no job has been recorded.
// If overrideDir is non-empty, it is used instead of the default ~/.stacks/ location.
func (m *Manager) LoadLastJob(overrideDir string) (*LastJob, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, lastJobFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading last job: %w", err)
	}

	job := &LastJob{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("parsing last job: %w", err)
	}

	return job, nil
}

// SaveLastJob persists job to a target .stacks/last_job.json.
func (m *Manager) SaveLastJob(job *LastJob, overrideDir string) error {
	if job == nil {
		return errors.New("cannot save nil last job")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling last job: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, lastJobFile), data, 0o600); err != nil {
		return fmt.Errorf("writing last job: %w", err)
	}

	return nil
}

// ClearLastJob removes the last job file. Returns nil if it doesn't exist.
func (m *Manager) ClearLastJob(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, lastJobFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing last job: %w", err)
	}

	return nil
}
