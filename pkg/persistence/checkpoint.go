package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opengda/scanning-go/pkg/device"
)

// CheckpointVersion is the current checkpoint file format.
const CheckpointVersion = 1

// Checkpoint is the saved progress of one scan run.
type Checkpoint struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`

	// Scan is the name of the scan definition.
	Scan  string `json:"scan"`
	RunID string `json:"run_id"`

	CompletedSteps int          `json:"completed_steps"`
	TotalSteps     int          `json:"total_steps"`
	State          device.State `json:"state"`

	// Position holds the axis values of the last completed step.
	Position map[string]float64 `json:"position,omitempty"`
}

// Resumable reports whether the run stopped part way through.
func (c *Checkpoint) Resumable() bool {
	if c == nil || c.CompletedSteps <= 0 {
		return false
	}
	return c.TotalSteps == 0 || c.CompletedSteps < c.TotalSteps
}

// CheckpointStore keeps one checkpoint in a JSON file.
type CheckpointStore struct {
	mu   sync.Mutex
	path string
}

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Path returns the checkpoint file.
func (s *CheckpointStore) Path() string { return s.path }

// Save writes cp, stamping the version and, if unset, the save time.
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	cp.Version = CheckpointVersion
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the checkpoint. It returns nil, nil when there is none.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", s.path, err)
	}
	if cp.Version > CheckpointVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %d", s.path, cp.Version)
	}
	return cp, nil
}

// Clear removes the checkpoint file.
func (s *CheckpointStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Tracked is a scanning device whose progress can be checkpointed.
type Tracked interface {
	AddProgressListener(fn func(device.ProgressEvent))
	AddStateListener(fn func(device.StateEvent))
}

// Track saves a checkpoint based on cp after every completed step and
// every state change of dev. Save failures are logged and do not stop the
// scan.
func (s *CheckpointStore) Track(dev Tracked, cp Checkpoint, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	var mu sync.Mutex
	save := func(update func(*Checkpoint)) {
		mu.Lock()
		defer mu.Unlock()
		update(&cp)
		cp.SavedAt = time.Time{}
		snapshot := cp
		if err := s.Save(&snapshot); err != nil {
			logger.Warn("saving checkpoint failed", "path", s.path, "error", err)
		}
	}

	dev.AddProgressListener(func(ev device.ProgressEvent) {
		save(func(cp *Checkpoint) {
			cp.CompletedSteps = ev.Completed
			if ev.Total > 0 {
				cp.TotalSteps = ev.Total
			}
			if ev.Position != nil {
				cp.Position = ev.Position.Values()
			}
		})
	})
	dev.AddStateListener(func(ev device.StateEvent) {
		save(func(cp *Checkpoint) { cp.State = ev.New })
	})
}
