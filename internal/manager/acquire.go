package manager

import (
	"context"
	"path/filepath"
	"time"

	"inferd/internal/backend"
	"inferd/internal/progress"
	"inferd/internal/registry"
)

// Acquire returns a ready session for name, loading it if necessary.
// Idempotent for the active model. A switch evicts the current session
// completely before the new load begins, so peak memory stays bounded by
// one model. Concurrent calls for the same name share a single load;
// different names serialize on the transition owner.
func (m *Manager) Acquire(ctx context.Context, name string) (*Session, error) {
	entry, ok := m.catalog.Lookup(name)
	if !ok {
		return nil, ErrUnknownModel(name)
	}

	// Fast path: cache hit without touching the transition lock.
	m.mu.RLock()
	if m.state == CellReady && m.cur != nil && m.cur.Name() == name {
		s := m.cur
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.flight.Do(name, func() (any, error) {
		return m.load(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// load performs the full transition: evict, ensure artifact, materialize.
// Holds the transition owner throughout so two loads never overlap.
func (m *Manager) load(ctx context.Context, entry registry.Entry) (*Session, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	// A waiter queued behind the load that produced this model.
	m.mu.RLock()
	if m.state == CellReady && m.cur != nil && m.cur.Name() == entry.Name {
		s := m.cur
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.clearCell("evict")

	start := time.Now()
	tracker := progress.NewTracker(0)
	m.mu.Lock()
	m.state = CellLoading
	m.loadingName = entry.Name
	m.loadTracker = tracker
	m.lastErr = ""
	m.mu.Unlock()
	m.log.Info().Str("model", entry.Name).Msg("load start")
	m.pub.Publish(Event{Name: "load_start", Model: entry.Name})

	fail := func(err error) (*Session, error) {
		m.mu.Lock()
		m.state = CellEmpty
		m.loadingName = ""
		m.loadTracker = nil
		m.lastErr = err.Error()
		m.mu.Unlock()
		loadFailuresTotal.Inc()
		m.log.Warn().Err(err).Str("model", entry.Name).Msg("load failed")
		m.pub.Publish(Event{Name: "load_failed", Model: entry.Name, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}

	// Download phase, only when the artifact isn't already on disk.
	if !m.store.Status(entry).Present {
		m.pub.Publish(Event{Name: "download_start", Model: entry.Name})
		if err := m.store.EnsurePresent(ctx, entry, tracker.Func(nil)); err != nil {
			m.pub.Publish(Event{Name: "download_failed", Model: entry.Name, Fields: map[string]any{"error": err.Error()}})
			return fail(err)
		}
		m.mu.Lock()
		m.downloads++
		m.mu.Unlock()
		downloadsTotal.Inc()
		m.pub.Publish(Event{Name: "download_done", Model: entry.Name})
	}
	// A session is only created once presence is confirmed.
	if !m.store.Status(entry).Present {
		return fail(ErrArtifactMissing(entry.Name))
	}

	// Fresh tracker for the materialization phase.
	loadTracker := progress.NewTracker(0)
	m.mu.Lock()
	m.loadTracker = loadTracker
	m.mu.Unlock()

	be, err := m.backends.For(entry.Kind).Materialize(ctx, m.specFor(entry), loadTracker.Func(nil))
	if err != nil {
		if ctx.Err() != nil {
			return fail(err)
		}
		return fail(ErrBackendFailure(entry.Name, err))
	}

	sess := &Session{entry: entry, be: be}
	m.mu.Lock()
	m.state = CellReady
	m.cur = sess
	m.loadingName = ""
	m.loadTracker = nil
	m.loads++
	m.mu.Unlock()
	loadsTotal.Inc()
	m.saveLastModel(entry.Name)
	m.log.Info().Str("model", entry.Name).Dur("dur", time.Since(start)).Msg("load ready")
	m.pub.Publish(Event{Name: "load_ready", Model: entry.Name, Fields: map[string]any{"dur_ms": int(time.Since(start) / time.Millisecond)}})
	return sess, nil
}

// specFor maps a catalog entry to the backend materialization spec.
func (m *Manager) specFor(entry registry.Entry) backend.Spec {
	dir := m.store.Locate(entry.Name)
	spec := backend.Spec{
		Name:         entry.Name,
		Kind:         entry.Kind,
		TemplatePath: m.store.TemplatePath(entry.Name),
		StopTokens:   append([]string(nil), entry.StopTokens...),
	}
	for _, f := range entry.Source.Files {
		if f == entry.Source.MMProj {
			spec.MMProjPath = filepath.Join(dir, f)
			continue
		}
		if spec.ModelPath == "" {
			spec.ModelPath = filepath.Join(dir, f)
		}
	}
	return spec
}
