package manager

import (
	"context"
	"time"
)

// Unload empties the session cell. Always succeeds; safe when nothing is
// loaded. In-flight generation drains up to the configured deadline, then
// the backend session is closed synchronously before Unload returns.
func (m *Manager) Unload(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()
	m.clearCell("unload")
	return nil
}

// clearCell moves the cell to empty, draining and closing any loaded
// session. Callers hold the transition owner. reason is "evict" when making
// room for another model, "unload" for explicit unloads.
func (m *Manager) clearCell(reason string) {
	m.mu.Lock()
	sess := m.cur
	m.cur = nil
	m.state = CellEmpty
	m.loadingName = ""
	m.loadTracker = nil
	m.mu.Unlock()
	if sess == nil {
		return
	}

	name := sess.Name()
	m.log.Info().Str("model", name).Str("reason", reason).Msg("releasing session")
	m.pub.Publish(Event{Name: reason + "_start", Model: name})

	// Streams that borrowed the session keep draining; new generation can
	// no longer reach it. Wait for in-flight work, bounded.
	m.drainGeneration(name)

	// Synchronous release: memory is back before the cell reports empty to
	// the next load.
	_ = sess.be.Close()

	if reason == "evict" {
		m.mu.Lock()
		m.evictions++
		m.mu.Unlock()
		evictionsTotal.Inc()
	}
	m.pub.Publish(Event{Name: reason + "_done", Model: name})
}

// drainGeneration waits until no generation is in flight or queued, up to
// the drain deadline.
func (m *Manager) drainGeneration(name string) {
	deadline := time.Now().Add(m.drainTimeout)
	for {
		if len(m.genCh) == 0 && len(m.queueCh) == 0 {
			return
		}
		if time.Now().After(deadline) {
			m.log.Warn().Str("model", name).Msg("drain deadline reached with generation in flight")
			m.pub.Publish(Event{Name: "drain_timeout", Model: name, Fields: map[string]any{
				"inflight": len(m.genCh), "queued": len(m.queueCh),
			}})
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
