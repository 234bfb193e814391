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
	sweepFile = "last_sweep.json"
)

// SweepState is the persisted summary of the last lifecycle sweep.
type SweepState struct {
	StartedAt     time.Time      `json:"started_at"`
	Scanned       int            `json:"scanned"`
	Transitions   map[string]int `json:"transitions,omitempty"`
	Purged        int            `json:"purged"`
	SlicesEvicted int            `json:"slices_evicted"`
	Errors        int            `json:"errors"`
	Took          time.Duration  `json:"took"`
}

// LoadSweepState loads the state from a target .memlayer/last_sweep.json.
// Returns nil, nil if no sweep has been recorded.
func (m *Manager) LoadSweepState(overrideDir string) (*SweepState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, sweepFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sweep state: %w", err)
	}

	state := &SweepState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing sweep state: %w", err)
	}

	return state, nil
}

// SaveSweepState persists state to a target .memlayer/last_sweep.json.
func (m *Manager) SaveSweepState(state *SweepState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil sweep state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sweep state: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, sweepFile), data, 0o600); err != nil {
		return fmt.Errorf("writing sweep state: %w", err)
	}

	return nil
}

// ClearSweepState removes the sweep state file. Returns nil if the file
// doesn't exist.
func (m *Manager) ClearSweepState(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, sweepFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing sweep state: %w", err)
	}

	return nil
}
