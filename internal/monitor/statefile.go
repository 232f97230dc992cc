package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// The state file round-trips exactly the
// fields the next comparison needs: series
// identity, last value/time, and open
// episodes. No derived data.

// LoadState seeds the store from the state
// file at path. A missing file is a cold
// start, not an error.
func LoadState(path string, s *Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading state file: %s", err)
	}

	var states []SeriesState
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("error parsing state file: %s", err)
	}

	s.Restore(states)

	return nil
}

// SaveState writes the store content to the
// state file at path. The write goes through
// a temp file and rename so a crash never
// leaves a truncated state file.
func SaveState(path string, s *Store) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling state: %s", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("error writing state file: %s", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("error writing state file: %s", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("error writing state file: %s", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("error writing state file: %s", err)
	}

	return nil
}
