package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// Sampling profiles. Tool calling runs tighter sampling and a bounded
// token budget; plain chat leaves the budget to the backend.
const (
	chatTemperature  float32 = 0.7
	toolTemperature  float32 = 0.6
	toolTopP         float32 = 0.95
	toolMaxTokens            = 2048
	streamBufferSize         = 64
)

// templateOverrideKey is the conventional Extra key a caller may smuggle the
// override template under. It is extracted and filtered so it never reaches
// the backend as a regular context field.
const templateOverrideKey = "chat_template"

// Stream is one generation in flight: a finite, non-restartable event
// sequence produced by exactly one session.
type Stream struct {
	requestID string
	ch        chan types.GenerationEvent
	cancel    context.CancelFunc

	mu  sync.Mutex
	err error
}

// C returns the event channel. It closes when the stream ends.
func (s *Stream) C() <-chan types.GenerationEvent { return s.ch }

// RequestID identifies this stream in logs and events.
func (s *Stream) RequestID() string { return s.requestID }

// Cancel stops the stream cooperatively. The in-flight backend call is
// cancelled, no further events are produced, and already-delivered events
// remain valid. Cancelling never touches the session cache.
func (s *Stream) Cancel() { s.cancel() }

// Err reports why the stream ended. Nil for normal completion; only
// meaningful once C() has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Generate starts a token stream for req. The session is acquired first,
// which may download and load the model; acquisition failure returns
// (nil, err) and produces zero events. The returned stream terminates on
// completion, backend failure or cancellation, with Err carrying the cause.
func (m *Manager) Generate(ctx context.Context, req types.GenerateRequest) (*Stream, error) {
	if _, ok := m.catalog.Lookup(req.Model); !ok {
		return nil, ErrUnknownModel(req.Model)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	sess, err := m.Acquire(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	release, err := m.beginGeneration(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithCancel(ctx)
	st := &Stream{
		requestID: req.RequestID,
		ch:        make(chan types.GenerationEvent, streamBufferSize),
		cancel:    cancel,
	}
	m.pub.Publish(Event{Name: "generate_start", Model: req.Model, Fields: map[string]any{"request_id": req.RequestID}})
	go m.runGeneration(genCtx, st, sess, req, release)
	return st, nil
}

// runGeneration is the stream worker: it prepares input, resolves the
// template, drives the backend and forwards events until the stream ends.
// The session is borrowed read-only for exactly this call.
func (m *Manager) runGeneration(ctx context.Context, st *Stream, sess *Session, req types.GenerateRequest, release func()) {
	start := time.Now()
	var stats backend.Stats

	err := func() error {
		input, err := sess.be.PrepareInput(ctx, req.Messages)
		if err != nil {
			return err
		}

		// Request override text wins; otherwise the conventional Extra key.
		// The key is filtered out either way.
		override := req.TemplateOverride
		extra := make(map[string]any, len(req.Extra))
		for k, v := range req.Extra {
			if k == templateOverrideKey {
				if s, ok := v.(string); ok && override == "" {
					override = s
				}
				continue
			}
			extra[k] = v
		}
		if override != "" {
			prompt, terr := sess.be.ApplyTemplate(ctx, req.Messages, override, req.Tools, extra)
			switch {
			case terr == nil:
				input.RawPrompt = prompt
			case backend.IsTemplateError(terr):
				// Fall back to the session's default template preparation.
				m.log.Warn().Err(terr).Str("model", req.Model).Str("request_id", req.RequestID).Msg("template override failed, using default")
			default:
				return terr
			}
		}

		params := backend.Params{Temperature: chatTemperature, Tools: req.Tools}
		if len(req.Tools) > 0 {
			params.Temperature = toolTemperature
			params.TopP = toolTopP
			params.MaxTokens = toolMaxTokens
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = req.MaxTokens
		}
		// Request-scoped stop set: session defaults plus extras, never
		// mutating the shared entry.
		stop := append([]string(nil), sess.entry.StopTokens...)
		params.Stop = append(stop, req.ExtraStopTokens...)

		stats, err = sess.be.Generate(ctx, input, params, func(ev backend.Event) error {
			out := types.GenerationEvent{Type: types.EventChunk, Chunk: ev.Token}
			if ev.ToolCall != nil {
				out = types.GenerationEvent{Type: types.EventToolCall, ToolCall: ev.ToolCall}
			}
			select {
			case st.ch <- out:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return err
	}()

	if err == nil {
		info := &types.CompletionInfo{TokenCount: stats.TokenCount, FinishReason: stats.FinishReason}
		if secs := stats.Duration.Seconds(); secs > 0 {
			info.TokensPerSecond = float64(stats.TokenCount) / secs
		}
		select {
		case st.ch <- types.GenerationEvent{Type: types.EventCompletion, Completion: info}:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	st.setErr(err)
	close(st.ch)
	release()
	st.cancel()

	generatedTokensTotal.Add(float64(stats.TokenCount))
	generationDuration.Observe(time.Since(start).Seconds())
	fields := map[string]any{"request_id": req.RequestID, "tokens": stats.TokenCount}
	switch {
	case err == nil:
		m.pub.Publish(Event{Name: "generate_done", Model: req.Model, Fields: fields})
	case errors.Is(err, context.Canceled):
		m.pub.Publish(Event{Name: "generate_cancelled", Model: req.Model, Fields: fields})
	default:
		fields["error"] = err.Error()
		m.pub.Publish(Event{Name: "generate_failed", Model: req.Model, Fields: fields})
	}
}
