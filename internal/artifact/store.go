package artifact

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/internal/progress"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

const (
	// cacheDirName is the transient subdirectory the downloader works in.
	// It is never part of the final artifact.
	cacheDirName = ".cache"
	// TemplateFileName is the optional per-model Jinja template override
	// inside an artifact directory.
	TemplateFileName = "chat_template.jinja"

	defaultMinArtifactBytes = 1 << 20 // 1 MiB
)

// Config holds Store construction parameters.
type Config struct {
	RootDir    string
	HubBaseURL string
	HubToken   string
	// Directories smaller than this after corruption cleanup are treated as
	// definitely incomplete and removed whole. Zero applies the default.
	MinArtifactBytes int64
	Logger           zerolog.Logger
}

// Store manages on-disk artifact directories for catalog models: presence
// and size accounting, hub downloads with corruption recovery, deletion.
type Store struct {
	root     string
	hub      *hubClient
	minBytes int64
	log      zerolog.Logger

	mu      sync.Mutex
	fetches map[string]*progress.Tracker // live downloads by model name
}

// New constructs a Store rooted at cfg.RootDir.
func New(cfg Config) *Store {
	minBytes := cfg.MinArtifactBytes
	if minBytes <= 0 {
		minBytes = defaultMinArtifactBytes
	}
	return &Store{
		root:     cfg.RootDir,
		hub:      newHubClient(cfg.HubBaseURL, cfg.HubToken),
		minBytes: minBytes,
		log:      cfg.Logger,
		fetches:  make(map[string]*progress.Tracker),
	}
}

// Locate maps a model name to its artifact directory. Pure function of the
// name and the configured root.
func (s *Store) Locate(name string) string {
	return filepath.Join(s.root, strings.ReplaceAll(name, "/", "_"))
}

// TemplatePath returns the per-model template override path. The file may or
// may not exist.
func (s *Store) TemplatePath(name string) string {
	return filepath.Join(s.Locate(name), TemplateFileName)
}

// Status derives the artifact state for one catalog entry by scanning its
// directory. Filesystem errors during size accounting are swallowed as zero;
// Status never fails.
func (s *Store) Status(e registry.Entry) types.ArtifactState {
	dir := s.Locate(e.Name)
	st := types.ArtifactState{
		Present:   s.present(e, dir),
		SizeBytes: s.dirSize(dir),
	}
	s.mu.Lock()
	if tr := s.fetches[e.Name]; tr != nil {
		snap := tr.Snapshot()
		st.Download = &snap
	}
	s.mu.Unlock()
	return st
}

// present reports whether every required file exists in dir.
func (s *Store) present(e registry.Entry, dir string) bool {
	if len(e.Source.Files) == 0 {
		return false
	}
	for _, f := range e.Source.Files {
		if !fsutil.PathExists(filepath.Join(dir, f)) {
			return false
		}
	}
	return true
}

// dirSize sums file sizes under dir, skipping the transient cache. Errors
// are swallowed; the walk keeps whatever it accumulated.
func (s *Store) dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fs.SkipDir
		}
		if d.IsDir() {
			if d.Name() == cacheDirName {
				return fs.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

// EnsurePresent makes the artifact for e fully materialized, fetching from
// the hub when absent. Progress callbacks report monotonically non-decreasing
// completed bytes for the whole fetch. A corrupted-resume failure is
// remediated and retried exactly once; if the retry fails too, the original
// corruption error is returned.
func (s *Store) EnsurePresent(ctx context.Context, e registry.Entry, onProgress progress.Func) error {
	dir := s.Locate(e.Name)
	if s.present(e, dir) {
		return nil
	}

	tr := progress.NewTracker(0)
	s.mu.Lock()
	s.fetches[e.Name] = tr
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.fetches, e.Name)
		s.mu.Unlock()
	}()
	cb := tr.Func(onProgress)

	s.log.Info().Str("model", e.Name).Str("repo", e.Source.Repo).Msg("artifact fetch start")
	err := s.hub.fetch(ctx, e, dir, cb)
	if err == nil {
		s.log.Info().Str("model", e.Name).Int64("size_bytes", s.dirSize(dir)).Msg("artifact fetch done")
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if !IsCorrupted(err) {
		s.log.Warn().Err(err).Str("model", e.Name).Msg("artifact fetch failed")
		return err
	}

	// Corrupted resume: clean the transient state and retry once.
	s.log.Warn().Err(err).Str("model", e.Name).Msg("corrupted artifact cache, recovering")
	if rerr := s.recover(dir); rerr != nil {
		s.log.Warn().Err(rerr).Str("model", e.Name).Msg("artifact recovery failed")
		return err
	}
	if retryErr := s.hub.fetch(ctx, e, dir, cb); retryErr != nil {
		s.log.Warn().Err(retryErr).Str("model", e.Name).Msg("artifact fetch retry failed")
		return err
	}
	s.log.Info().Str("model", e.Name).Msg("artifact fetch recovered")
	return nil
}

// recover removes the transient cache subdirectory and, when the remaining
// directory is below the minimum plausible artifact size, the directory
// itself.
func (s *Store) recover(dir string) error {
	if err := os.RemoveAll(filepath.Join(dir, cacheDirName)); err != nil {
		return err
	}
	size, err := fsutil.DirSize(dir)
	if err != nil {
		return err
	}
	if size < s.minBytes {
		return os.RemoveAll(dir)
	}
	return nil
}

// Delete removes the artifact directory for name. Success when already
// absent.
func (s *Store) Delete(name string) error {
	return os.RemoveAll(s.Locate(name))
}
