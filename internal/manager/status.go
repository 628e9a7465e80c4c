package manager

import (
	"time"

	"inferd/pkg/types"
)

// Status builds the /status projection of the cell and its counters.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		State:          string(m.state),
		LoadsTotal:     m.loads,
		EvictionsTotal: m.evictions,
		DownloadsTotal: m.downloads,
		LastError:      m.lastErr,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if m.state == CellReady && m.cur != nil {
		resp.Current = m.cur.Name()
	}
	if m.state == CellLoading {
		ls := &types.LoadingStatus{Model: m.loadingName}
		if m.loadTracker != nil {
			snap := m.loadTracker.Snapshot()
			ls.Completed = snap.Completed
			ls.Total = snap.Total
		}
		resp.Loading = ls
	}
	return resp
}

// Models joins the catalog with per-model artifact state, in declaration
// order.
func (m *Manager) Models() []types.ModelSummary {
	descs := m.catalog.All()
	out := make([]types.ModelSummary, 0, len(descs))
	for _, d := range descs {
		entry, _ := m.catalog.Lookup(d.Name)
		out = append(out, types.ModelSummary{
			Name:        d.Name,
			DisplayName: d.DisplayName,
			Kind:        d.Kind,
			ToolCalling: d.ToolCalling,
			Artifact:    m.store.Status(entry),
		})
	}
	return out
}

// ModelSummary returns one model's catalog row and artifact state.
func (m *Manager) ModelSummary(name string) (types.ModelSummary, error) {
	entry, ok := m.catalog.Lookup(name)
	if !ok {
		return types.ModelSummary{}, ErrUnknownModel(name)
	}
	return types.ModelSummary{
		Name:        entry.Name,
		DisplayName: entry.DisplayName,
		Kind:        entry.Kind,
		ToolCalling: entry.ToolCalling,
		Artifact:    m.store.Status(entry),
	}, nil
}
