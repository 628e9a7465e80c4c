//go:build llama

package backend

import (
	"context"
	"errors"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"inferd/internal/progress"
	"inferd/pkg/types"
)

// llamaBuilt indicates this binary was compiled with in-process llama
// support.
var llamaBuilt = true

// LlamaConfig tunes the in-process go-llama.cpp backend.
type LlamaConfig struct {
	CtxSize int
	Threads int
	Logger  zerolog.Logger
}

// llamaBackend loads models in-process through go-llama.cpp. Text-only.
type llamaBackend struct {
	cfg LlamaConfig
	log zerolog.Logger
}

// NewLlama constructs the in-process backend.
func NewLlama(cfg LlamaConfig) Backend {
	return &llamaBackend{cfg: cfg, log: cfg.Logger}
}

func (b *llamaBackend) Materialize(ctx context.Context, spec Spec, onProgress progress.Func) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Kind == types.BackendVisionCapable {
		return nil, ErrUnavailable("in-process backend is text-only; vision models need the server backend")
	}
	if onProgress != nil {
		onProgress(0, 0)
	}
	opts := []llama.ModelOption{}
	if b.cfg.CtxSize > 0 {
		opts = append(opts, llama.SetContext(b.cfg.CtxSize))
	}
	m, err := llama.New(spec.ModelPath, opts...)
	if err != nil {
		return nil, err
	}
	b.log.Info().Str("model", spec.Name).Msg("llama model loaded in-process")
	return &llamaSession{spec: spec, model: m, threads: b.cfg.Threads}, nil
}

// llamaSession owns one in-process loaded model.
type llamaSession struct {
	spec    Spec
	model   *llama.LLama
	threads int
}

func (s *llamaSession) PrepareInput(ctx context.Context, messages []types.Message) (Input, error) {
	return resolveInput(ctx, messages, false)
}

func (s *llamaSession) ApplyTemplate(ctx context.Context, messages []types.Message, template string, tools []types.Tool, extra map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return RenderTemplate(template, messages, tools, extra)
}

func (s *llamaSession) Generate(ctx context.Context, input Input, params Params, onEvent func(Event) error) (Stats, error) {
	if s.model == nil {
		return Stats{}, errors.New("llama model not initialized")
	}
	prompt := input.RawPrompt
	if prompt == "" {
		// No server-side templating in-process; fall back to a plain
		// transcript.
		prompt = transcriptPrompt(input.Messages)
	}

	var stats Stats
	var cbErr error
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		stats.TokenCount++
		if err := onEvent(Event{Token: tok}); err != nil {
			cbErr = err
			return false
		}
		return true
	})

	po := []llama.PredictOption{
		llama.SetTemperature(params.Temperature),
	}
	if params.TopP > 0 {
		po = append(po, llama.SetTopP(params.TopP))
	}
	if params.MaxTokens > 0 {
		po = append(po, llama.SetTokens(params.MaxTokens))
	}
	if s.threads > 0 {
		po = append(po, llama.SetThreads(s.threads))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}

	start := time.Now()
	_, err := s.model.Predict(prompt, po...)
	stats.Duration = time.Since(start)
	if cbErr != nil {
		return stats, cbErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		return stats, err
	}
	stats.FinishReason = "stop"
	return stats, nil
}

// Close frees the model weights synchronously.
func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}
