package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"inferd/internal/artifact"
	"inferd/internal/backend"
	"inferd/internal/progress"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// BackendSelector hands out the backend serving a model kind.
// *backend.Selector is the production implementation.
type BackendSelector interface {
	For(kind types.BackendKind) backend.Backend
}

// CellState is the session cache state.
type CellState string

const (
	CellEmpty   CellState = "empty"
	CellLoading CellState = "loading"
	CellReady   CellState = "ready"
)

// Session is the loaded-model handle: descriptor identity plus the
// materialized backend session. Owned exclusively by the Manager; generation
// borrows it read-only for one request.
type Session struct {
	entry registry.Entry
	be    backend.Session
}

// Name returns the descriptor identity of the loaded model.
func (s *Session) Name() string { return s.entry.Name }

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 10 * time.Second
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Catalog  *registry.Catalog
	Store    *artifact.Store
	Backends BackendSelector
	// Generation admission: queued requests beyond MaxQueueDepth or waiting
	// longer than MaxWait are rejected as too busy.
	MaxQueueDepth int
	MaxWait       time.Duration
	// How long eviction/unload waits for in-flight generation to drain
	// before closing the session anyway.
	DrainTimeout time.Duration
	// File recording the last successfully loaded model, for warm starts.
	// Empty disables persistence.
	StatePath string
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// Manager holds the one-session cell and everything needed to fill it.
type Manager struct {
	catalog  *registry.Catalog
	store    *artifact.Store
	backends BackendSelector
	pub      EventPublisher
	log      zerolog.Logger

	// transition serializes every mutation of which model is loaded:
	// eviction, download, materialization, unload. Generation never takes it.
	transition sync.Mutex
	flight     singleflight.Group

	mu          sync.RWMutex
	state       CellState
	cur         *Session
	loadingName string
	loadTracker *progress.Tracker
	lastErr     string

	loads     uint64
	evictions uint64
	downloads uint64

	// Admission: one in-flight generation, bounded queue behind it.
	genCh   chan struct{}
	queueCh chan struct{}
	maxWait time.Duration

	drainTimeout time.Duration
	statePath    string
	startTime    time.Time
}

// New constructs a Manager from cfg.
func New(cfg Config) *Manager {
	depth := cfg.MaxQueueDepth
	if depth <= 0 {
		depth = defaultMaxQueueDepth
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Manager{
		catalog:      cfg.Catalog,
		store:        cfg.Store,
		backends:     cfg.Backends,
		pub:          pub,
		log:          cfg.Logger,
		state:        CellEmpty,
		genCh:        make(chan struct{}, 1),
		queueCh:      make(chan struct{}, depth),
		maxWait:      maxWait,
		drainTimeout: drain,
		statePath:    cfg.StatePath,
		startTime:    time.Now(),
	}
}

// Ready reports whether a session is loaded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == CellReady && m.cur != nil
}

// CurrentIdentity returns the loaded model's name, if any. Read-only peek,
// never blocks on transitions.
func (m *Manager) CurrentIdentity() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == CellReady && m.cur != nil {
		return m.cur.Name(), true
	}
	return "", false
}

// IsLoaded reports whether name is the currently loaded model.
func (m *Manager) IsLoaded(name string) bool {
	cur, ok := m.CurrentIdentity()
	return ok && cur == name
}
