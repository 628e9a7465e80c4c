//go:build !llama

package backend

import (
	"context"

	"github.com/rs/zerolog"

	"inferd/internal/progress"
)

// Compiled when the 'llama' build tag is NOT set, keeping default builds
// CGO-free. The real backend lives in llama.go.

var llamaBuilt = false

// LlamaConfig tunes the in-process go-llama.cpp backend.
type LlamaConfig struct {
	CtxSize int
	Threads int
	Logger  zerolog.Logger
}

type llamaBackend struct{}

// NewLlama returns a backend that refuses to materialize without the
// 'llama' build tag. Fail fast rather than mock.
func NewLlama(cfg LlamaConfig) Backend {
	return &llamaBackend{}
}

func (b *llamaBackend) Materialize(ctx context.Context, spec Spec, onProgress progress.Func) (Session, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}
