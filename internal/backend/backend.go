// Package backend abstracts the inference runtime behind the session cache:
// materializing a model into a ready session, preparing conversation input,
// applying chat templates and driving the token stream. Implementations are
// selected per model kind and configured mode; the rest of the system only
// sees these interfaces.
package backend

import (
	"context"
	"time"

	"inferd/internal/progress"
	"inferd/pkg/types"
)

// Spec is everything a backend needs to materialize one model.
type Spec struct {
	// Model identity, for logging and diagnostics only.
	Name string
	Kind types.BackendKind
	// Absolute path to the main model weights file.
	ModelPath string
	// Multimodal projector weights for vision-capable models, empty otherwise.
	MMProjPath string
	// Per-model chat template override file. May not exist; implementations
	// apply it only when present.
	TemplatePath string
	// Default generation terminators for the model family.
	StopTokens []string
}

// Params tunes one generation call. Zero values defer to backend defaults.
type Params struct {
	Temperature float32
	TopP        float32
	// Maximum new tokens; 0 means unbounded (backend default).
	MaxTokens int
	// Full stop set for this call: the session's defaults plus any
	// request-scoped extras. Never nil-aliased to shared state.
	Stop  []string
	Tools []types.Tool
}

// Event is one element of the backend token stream. Exactly one field is set.
type Event struct {
	Token    string
	ToolCall *types.ToolCallInfo
}

// Stats summarizes a finished generation.
type Stats struct {
	TokenCount   int
	Duration     time.Duration
	FinishReason string
}

// Attachment is a decoded, bounds-resized image ready for the backend.
type Attachment struct {
	// Index into the input messages this attachment belongs to.
	MessageIndex int
	// PNG-encoded pixels, no larger than the resize bound on either axis.
	Data []byte
}

// Input is a prepared conversation. When RawPrompt is set a template was
// rendered locally and the backend must complete the literal prompt instead
// of applying its own chat formatting.
type Input struct {
	Messages    []types.Message
	Attachments []Attachment
	RawPrompt   string
}

// Backend materializes sessions for one runtime family.
type Backend interface {
	// Materialize loads the model described by spec and returns a ready
	// session. Progress is reported as (completed, total) bytes where known.
	Materialize(ctx context.Context, spec Spec, onProgress progress.Func) (Session, error)
}

// Session is one loaded model. Sessions are not safe for concurrent
// Generate calls; the manager serializes access.
type Session interface {
	// PrepareInput resolves message attachments into backend-ready input.
	PrepareInput(ctx context.Context, messages []types.Message) (Input, error)
	// ApplyTemplate renders template over the conversation and returns the
	// raw prompt. Failures classify as template errors (IsTemplateError).
	ApplyTemplate(ctx context.Context, messages []types.Message, template string, tools []types.Tool, extra map[string]any) (string, error)
	// Generate streams events for input until completion, error or context
	// cancellation. onEvent returning an error stops the stream.
	Generate(ctx context.Context, input Input, params Params, onEvent func(Event) error) (Stats, error)
	// Close releases backend memory. Blocks until the release is complete.
	Close() error
}
