package manager

import (
	"context"

	"inferd/internal/progress"
)

// Pull downloads a model's artifact without loading it. Progress callbacks
// report monotonically non-decreasing completed bytes. Serialized with
// session transitions so downloads never race a load for the same model.
func (m *Manager) Pull(ctx context.Context, name string, onProgress progress.Func) error {
	entry, ok := m.catalog.Lookup(name)
	if !ok {
		return ErrUnknownModel(name)
	}
	m.transition.Lock()
	defer m.transition.Unlock()

	if m.store.Status(entry).Present {
		return nil
	}
	m.pub.Publish(Event{Name: "download_start", Model: name})
	if err := m.store.EnsurePresent(ctx, entry, onProgress); err != nil {
		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.pub.Publish(Event{Name: "download_failed", Model: name, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	m.mu.Lock()
	m.downloads++
	m.mu.Unlock()
	downloadsTotal.Inc()
	m.pub.Publish(Event{Name: "download_done", Model: name})
	return nil
}

// DeleteModel removes a model's on-disk artifact. The in-memory session, if
// it is this model, is unaffected until the next transition.
func (m *Manager) DeleteModel(name string) error {
	if _, ok := m.catalog.Lookup(name); !ok {
		return ErrUnknownModel(name)
	}
	if err := m.store.Delete(name); err != nil {
		return err
	}
	m.pub.Publish(Event{Name: "artifact_deleted", Model: name})
	return nil
}
