package manager

import (
	"context"
	"encoding/json"
	"os"
)

// stateRecord is the on-disk warm-start state.
type stateRecord struct {
	LastModel string `json:"last_model"`
}

// saveLastModel records the most recently loaded model. Best effort; a
// failed write never fails a load.
func (m *Manager) saveLastModel(name string) {
	if m.statePath == "" {
		return
	}
	b, err := json.MarshalIndent(stateRecord{LastModel: name}, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(m.statePath, b, 0o644)
}

// LastModel returns the persisted last-loaded model name, if any.
func (m *Manager) LastModel() (string, bool) {
	if m.statePath == "" {
		return "", false
	}
	b, err := os.ReadFile(m.statePath)
	if err != nil {
		return "", false
	}
	var rec stateRecord
	if err := json.Unmarshal(b, &rec); err != nil || rec.LastModel == "" {
		return "", false
	}
	return rec.LastModel, true
}

// WarmStart reacquires the persisted last model. A stale record naming a
// model no longer in the catalog is ignored.
func (m *Manager) WarmStart(ctx context.Context) error {
	name, ok := m.LastModel()
	if !ok {
		return nil
	}
	if _, found := m.catalog.Lookup(name); !found {
		m.log.Warn().Str("model", name).Msg("persisted model no longer in catalog, skipping warm start")
		return nil
	}
	m.log.Info().Str("model", name).Msg("warm start")
	_, err := m.Acquire(ctx, name)
	return err
}
