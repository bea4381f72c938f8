package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// cursorState is the on-disk form: {volume: {journal_id, next_usn}}.
type cursorState map[string]struct {
	JournalID string `json:"journal_id"`
	NextUSN   uint64 `json:"next_usn"`
}

// loadState restores cursors from the state file. A missing file is not
// an error; first run starts at each journal's current position.
func (c *Collector) loadState() error {
	data, err := os.ReadFile(c.cfg.StateFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("collector: read state file: %w", err)
	}
	var state cursorState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("collector: parse state file: %w", err)
	}
	for volume, cur := range state {
		c.cursors[volumeKey(volume)] = types.Cursor{Volume: volume, JournalID: cur.JournalID, NextUSN: cur.NextUSN}
	}
	return nil
}

// saveState writes cursors atomically (temp file + rename) so a crash
// mid-write never leaves a torn state file.
func (c *Collector) saveState() error {
	state := make(cursorState, len(c.cursors))
	for key, cur := range c.cursors {
		// Map keys are already normalized through volumeKey.
		state[key] = struct {
			JournalID string `json:"journal_id"`
			NextUSN   uint64 `json:"next_usn"`
		}{JournalID: cur.JournalID, NextUSN: cur.NextUSN}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("collector: encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.StateFile), 0o755); err != nil {
		return fmt.Errorf("collector: create state dir: %w", err)
	}
	tmp := c.cfg.StateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("collector: write state: %w", err)
	}
	if err := os.Rename(tmp, c.cfg.StateFile); err != nil {
		return fmt.Errorf("collector: replace state: %w", err)
	}
	return nil
}
