package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"inferd/internal/registry"
	"inferd/pkg/types"
)

func testEntry(name string, files ...string) registry.Entry {
	return registry.Entry{
		ModelDescriptor: types.ModelDescriptor{Name: name, Kind: types.BackendTextOnly},
		Source:          registry.HubSource{Repo: "test/" + name, Files: files},
	}
}

func newTestStore(t *testing.T, hubURL string) *Store {
	t.Helper()
	return New(Config{RootDir: t.TempDir(), HubBaseURL: hubURL, MinArtifactBytes: 1})
}

func TestLocateSanitizesName(t *testing.T) {
	s := newTestStore(t, "")
	dir := s.Locate("org/model-7b")
	if strings.Contains(filepath.Base(dir), "/") {
		t.Fatalf("separator leaked into directory name: %s", dir)
	}
	if filepath.Base(dir) != "org_model-7b" {
		t.Fatalf("directory name: %s", filepath.Base(dir))
	}
	if got := s.TemplatePath("org/model-7b"); got != filepath.Join(dir, TemplateFileName) {
		t.Fatalf("template path: %s", got)
	}
}

func TestStatusAbsent(t *testing.T) {
	s := newTestStore(t, "")
	st := s.Status(testEntry("alpha", "alpha.gguf"))
	if st.Present {
		t.Fatal("absent artifact reported present")
	}
	if st.SizeBytes != 0 {
		t.Fatalf("size: %d", st.SizeBytes)
	}
	if st.Download != nil {
		t.Fatalf("download: %+v", st.Download)
	}
}

func TestStatusPresentRequiresAllFiles(t *testing.T) {
	s := newTestStore(t, "")
	e := testEntry("gamma", "gamma.gguf", "mmproj.gguf")
	dir := s.Locate("gamma")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gamma.gguf"), []byte("weights"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if s.Status(e).Present {
		t.Fatal("present with a required file missing")
	}
	if err := os.WriteFile(filepath.Join(dir, "mmproj.gguf"), []byte("proj"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	st := s.Status(e)
	if !st.Present {
		t.Fatal("not present with all files on disk")
	}
	if st.SizeBytes != int64(len("weights")+len("proj")) {
		t.Fatalf("size: %d", st.SizeBytes)
	}
}

func TestStatusSizeSkipsTransientCache(t *testing.T) {
	s := newTestStore(t, "")
	e := testEntry("alpha", "alpha.gguf")
	dir := s.Locate("alpha")
	if err := os.MkdirAll(filepath.Join(dir, cacheDirName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "alpha.gguf"), []byte("weights"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, cacheDirName, "alpha.gguf.partial"), []byte("halfway-there"), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	if st := s.Status(e); st.SizeBytes != int64(len("weights")) {
		t.Fatalf("size includes cache: %d", st.SizeBytes)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t, "")
	dir := s.Locate("alpha")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := s.Delete("alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory survived delete: %v", err)
	}
	if err := s.Delete("alpha"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}
