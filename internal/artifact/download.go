package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inferd/internal/common/fsutil"
	"inferd/internal/progress"
	"inferd/internal/registry"
)

const (
	defaultHubBaseURL = "https://huggingface.co"

	// partialSuffix marks resumable in-flight data in the transient cache.
	partialSuffix = ".partial"
	// markerSuffix marks a transfer that has started but not finalized.
	markerSuffix = ".incomplete"
)

// transferMarker is the on-disk record of one in-flight file transfer.
type transferMarker struct {
	File     string `json:"file"`
	Expected int64  `json:"expected"`
}

// hubClient fetches model files from an artifact hub over HTTP.
type hubClient struct {
	base  string
	token string
	http  *http.Client
}

func newHubClient(base, token string) *hubClient {
	if base == "" {
		base = defaultHubBaseURL
	}
	if token == "" {
		token = os.Getenv("HF_TOKEN")
	}
	// No client timeout: artifact downloads are long-lived and cancelled
	// through the request context.
	return &hubClient{base: base, token: token, http: &http.Client{Timeout: 0}}
}

func (h *hubClient) fileURL(repo, file string) string {
	return h.base + "/" + repo + "/resolve/main/" + file
}

// fetch materializes every file of e into dir, working through the transient
// cache subdirectory. Progress reports whole-fetch completed bytes against
// the preflighted total.
func (h *hubClient) fetch(ctx context.Context, e registry.Entry, dir string, onProgress progress.Func) error {
	name := e.Name
	cache := filepath.Join(dir, cacheDirName)
	if err := checkResidue(name, dir, cache); err != nil {
		return err
	}
	if err := os.MkdirAll(cache, 0o755); err != nil {
		return ErrTransient(name, err)
	}

	// Preflight sizes so progress has a stable total. Best effort; a file
	// whose size is unknown simply doesn't count toward the total.
	sizes := make(map[string]int64, len(e.Source.Files))
	var total int64
	for _, f := range e.Source.Files {
		n, err := h.headSize(ctx, e.Source.Repo, f)
		if err != nil {
			if ctx.Err() != nil {
				return ErrTransient(name, ctx.Err())
			}
			n = 0
		}
		sizes[f] = n
		total += n
	}

	var completed int64
	for _, f := range e.Source.Files {
		if err := ctx.Err(); err != nil {
			return ErrTransient(name, err)
		}
		final := filepath.Join(dir, f)
		if fi, err := os.Stat(final); err == nil && (sizes[f] == 0 || fi.Size() == sizes[f]) {
			completed += fi.Size()
			onProgress(completed, total)
			continue
		}
		fileBase := completed
		n, err := h.downloadFile(ctx, name, h.fileURL(e.Source.Repo, f), cache, final, sizes[f], func(done int64) {
			onProgress(fileBase+done, total)
		})
		if err != nil {
			return err
		}
		completed = fileBase + n
		onProgress(completed, total)
	}

	// The transient cache is never part of the final artifact.
	if err := os.RemoveAll(cache); err != nil {
		return ErrTransient(name, err)
	}
	return nil
}

// headSize asks the hub for one file's size.
func (h *hubClient) headSize(ctx context.Context, repo, file string) (int64, error) {
	hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(hctx, http.MethodHead, h.fileURL(repo, file), nil)
	if err != nil {
		return 0, err
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("hub returned status %d for %s", resp.StatusCode, file)
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// downloadFile fetches url into final via the transient cache, resuming any
// partial data with a Range request. Reports this file's downloaded bytes.
func (h *hubClient) downloadFile(ctx context.Context, name, url, cache, final string, expect int64, onProgress func(done int64)) (int64, error) {
	base := filepath.Base(final)
	partial := filepath.Join(cache, base+partialSuffix)
	marker := filepath.Join(cache, base+markerSuffix)

	var startByte int64
	if info, err := os.Stat(partial); err == nil {
		startByte = info.Size()
	}

	mb, _ := json.Marshal(transferMarker{File: base, Expected: expect})
	if err := os.WriteFile(marker, mb, 0o644); err != nil {
		return 0, ErrTransient(name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, ErrTransient(name, err)
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return 0, ErrTransient(name, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// The partial no longer matches the remote; resuming is hopeless.
		return 0, ErrCorrupted(name, fmt.Errorf("resume rejected for %s", base))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return 0, ErrTransient(name, fmt.Errorf("hub returned status %d for %s", resp.StatusCode, base))
	case resp.StatusCode == http.StatusOK:
		// Server ignored the range; start over.
		startByte = 0
	}

	flags := os.O_CREATE | os.O_WRONLY
	if startByte > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return 0, ErrTransient(name, err)
	}

	downloaded := startByte
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := fh.Write(buf[:n]); writeErr != nil {
				fh.Close()
				return downloaded, ErrTransient(name, writeErr)
			}
			downloaded += int64(n)
			onProgress(downloaded)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			fh.Close()
			if cerr := ctx.Err(); cerr != nil {
				return downloaded, ErrTransient(name, cerr)
			}
			return downloaded, ErrTransient(name, readErr)
		}
	}
	if err := fh.Close(); err != nil {
		return downloaded, ErrTransient(name, err)
	}

	if err := os.Rename(partial, final); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Partial vanished during finalize.
			return downloaded, ErrCorrupted(name, err)
		}
		return downloaded, ErrTransient(name, err)
	}
	_ = os.Remove(marker)
	return downloaded, nil
}

// checkResidue classifies stale transfer markers left by an interrupted
// download. A marker whose partial data and final file are both gone cannot
// be resumed; the caller remediates before fetching again.
func checkResidue(name, dir, cache string) error {
	entries, err := os.ReadDir(cache)
	if err != nil {
		return nil
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), markerSuffix) {
			continue
		}
		base := strings.TrimSuffix(ent.Name(), markerSuffix)
		partialOK := fsutil.PathExists(filepath.Join(cache, base+partialSuffix))
		finalOK := fsutil.PathExists(filepath.Join(dir, base))
		if !partialOK && !finalOK {
			return ErrCorrupted(name, fmt.Errorf("stale transfer marker %s", ent.Name()))
		}
	}
	return nil
}
