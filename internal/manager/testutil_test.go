package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"inferd/internal/artifact"
	"inferd/internal/backend"
	"inferd/internal/progress"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// fakeBackend materializes fakeSessions and counts how often it was asked
// to, so tests can assert idempotency and single-flight behavior.
type fakeBackend struct {
	mu           sync.Mutex
	materialized int
	failWith     error
	tokens       []string
	block        chan struct{} // generation waits on this when set
	sessions     []*fakeSession
}

func (b *fakeBackend) Materialize(ctx context.Context, spec backend.Spec, onProgress progress.Func) (backend.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.materialized++
	if b.failWith != nil {
		return nil, b.failWith
	}
	if onProgress != nil {
		onProgress(1, 1)
	}
	s := &fakeSession{spec: spec, tokens: b.tokens, block: b.block}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBackend) materializeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.materialized
}

func (b *fakeBackend) lastSession() *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

type fakeSession struct {
	spec   backend.Spec
	tokens []string
	block  chan struct{}

	mu         sync.Mutex
	closed     bool
	lastInput  backend.Input
	lastParams backend.Params
}

func (s *fakeSession) PrepareInput(ctx context.Context, messages []types.Message) (backend.Input, error) {
	return backend.Input{Messages: messages}, nil
}

func (s *fakeSession) ApplyTemplate(ctx context.Context, messages []types.Message, template string, tools []types.Tool, extra map[string]any) (string, error) {
	return backend.RenderTemplate(template, messages, tools, extra)
}

func (s *fakeSession) Generate(ctx context.Context, input backend.Input, params backend.Params, onEvent func(backend.Event) error) (backend.Stats, error) {
	s.mu.Lock()
	s.lastInput = input
	s.lastParams = params
	s.mu.Unlock()
	for _, tok := range s.tokens {
		if err := onEvent(backend.Event{Token: tok}); err != nil {
			return backend.Stats{}, err
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return backend.Stats{}, ctx.Err()
		}
	}
	return backend.Stats{TokenCount: len(s.tokens), Duration: 50 * time.Millisecond, FinishReason: "stop"}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) generateParams() backend.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastParams
}

func (s *fakeSession) generateInput() backend.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

// fakeSelector routes every kind to the one fake backend.
type fakeSelector struct{ be backend.Backend }

func (f fakeSelector) For(types.BackendKind) backend.Backend { return f.be }

func testCatalog() *registry.Catalog {
	return registry.MustNew(
		registry.Entry{
			ModelDescriptor: types.ModelDescriptor{Name: "alpha", DisplayName: "Alpha", Kind: types.BackendTextOnly, ToolCalling: true},
			Source:          registry.HubSource{Repo: "test/alpha", Files: []string{"alpha.gguf"}},
			StopTokens:      []string{"<|im_end|>"},
		},
		registry.Entry{
			ModelDescriptor: types.ModelDescriptor{Name: "beta", DisplayName: "Beta", Kind: types.BackendTextOnly},
			Source:          registry.HubSource{Repo: "test/beta", Files: []string{"beta.gguf"}},
			StopTokens:      []string{"</s>"},
		},
		registry.Entry{
			ModelDescriptor: types.ModelDescriptor{Name: "gamma-vl", DisplayName: "Gamma VL", Kind: types.BackendVisionCapable},
			Source:          registry.HubSource{Repo: "test/gamma", Files: []string{"gamma.gguf", "mmproj.gguf"}, MMProj: "mmproj.gguf"},
		},
	)
}

type testManagerOpts struct {
	pub       EventPublisher
	statePath string
	maxDepth  int
	maxWait   time.Duration
	drain     time.Duration
}

func newTestManager(t *testing.T, be *fakeBackend, opts testManagerOpts) (*Manager, *artifact.Store) {
	t.Helper()
	root := t.TempDir()
	store := artifact.New(artifact.Config{RootDir: root, MinArtifactBytes: 1})
	m := New(Config{
		Catalog:       testCatalog(),
		Store:         store,
		Backends:      fakeSelector{be},
		Publisher:     opts.pub,
		StatePath:     opts.statePath,
		MaxQueueDepth: opts.maxDepth,
		MaxWait:       opts.maxWait,
		DrainTimeout:  opts.drain,
	})
	return m, store
}

// placeArtifact writes the files the catalog requires for name, so loads
// skip the download phase.
func placeArtifact(t *testing.T, store *artifact.Store, name string) {
	t.Helper()
	entry, ok := testCatalog().Lookup(name)
	if !ok {
		t.Fatalf("no catalog entry for %s", name)
	}
	dir := store.Locate(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range entry.Source.Files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("weights"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
}

func userMessages(text string) []types.Message {
	return []types.Message{{Role: types.RoleUser, Content: text}}
}

// drainStream collects every event until the stream closes.
func drainStream(t *testing.T, st *Stream) []types.GenerationEvent {
	t.Helper()
	var out []types.GenerationEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-st.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close in time")
		}
	}
}
