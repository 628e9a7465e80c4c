package types

// BackendKind selects which inference backend family a model runs on.
type BackendKind string

const (
	// BackendTextOnly marks models that accept text input only.
	BackendTextOnly BackendKind = "text-only"
	// BackendVisionCapable marks models that accept image attachments.
	BackendVisionCapable BackendKind = "vision-capable"
)

// ModelDescriptor identifies one model variant in the static catalog.
// Descriptors are immutable and compared by Name only.
type ModelDescriptor struct {
	// Unique model identity.
	// example: qwen2.5-1.5b-instruct
	Name string `json:"name" example:"qwen2.5-1.5b-instruct"`
	// Backend family the model requires.
	// example: text-only
	Kind BackendKind `json:"kind" example:"text-only"`
	// Whether the model's template supports tool calling.
	// example: true
	ToolCalling bool `json:"tool_calling" example:"true"`
	// Human-friendly name for display.
	// example: Qwen 2.5 1.5B Instruct
	DisplayName string `json:"display_name" example:"Qwen 2.5 1.5B Instruct"`
}

// Progress is a completed/total byte pair for a long-running transfer.
type Progress struct {
	// Bytes completed so far.
	// example: 104857600
	Completed int64 `json:"completed" example:"104857600"`
	// Total bytes expected; 0 when unknown.
	// example: 1073741824
	Total int64 `json:"total" example:"1073741824"`
}

// ArtifactState describes the on-disk state of one model's artifact
// directory. It is derived by scanning the directory at query time and is
// never cached.
type ArtifactState struct {
	// True when all required artifact files exist.
	// example: true
	Present bool `json:"present" example:"true"`
	// Total size of the artifact directory in bytes.
	// example: 1073741824
	SizeBytes int64 `json:"size_bytes" example:"1073741824"`
	// Live download progress when a fetch is in flight, else null.
	Download *Progress `json:"download,omitempty"`
}

// Role is a conversation message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Attachment fields hold file references;
// the engine resolves and resizes them before they reach the backend.
type Message struct {
	// Message role.
	// example: user
	Role Role `json:"role" example:"user"`
	// Text content.
	// example: What is in this picture?
	Content string `json:"content" example:"What is in this picture?"`
	// Optional image file references.
	Images []string `json:"images,omitempty"`
	// Optional video file references.
	Videos []string `json:"videos,omitempty"`
}

// Tool describes one function the model may call.
type Tool struct {
	// Function name.
	// example: get_weather
	Name string `json:"name" example:"get_weather"`
	// What the function does.
	// example: Look up the current weather for a city.
	Description string `json:"description,omitempty" example:"Look up the current weather for a city."`
	// JSON-schema object describing the function parameters.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// EventType tags a GenerationEvent variant.
type EventType string

const (
	// EventChunk carries a piece of generated text.
	EventChunk EventType = "chunk"
	// EventCompletion closes a stream with final metrics.
	EventCompletion EventType = "completion"
	// EventToolCall carries a tool invocation requested by the model.
	EventToolCall EventType = "tool_call"
)

// GenerationEvent is one element of a generation stream. Exactly one of the
// variant fields is set, selected by Type.
type GenerationEvent struct {
	// Variant tag.
	// example: chunk
	Type EventType `json:"type" example:"chunk"`
	// Generated text piece when Type is "chunk".
	// example: Hello
	Chunk string `json:"chunk,omitempty" example:"Hello"`
	// Final metrics when Type is "completion".
	Completion *CompletionInfo `json:"completion,omitempty"`
	// Tool invocation when Type is "tool_call".
	ToolCall *ToolCallInfo `json:"tool_call,omitempty"`
}

// CompletionInfo is the terminal telemetry of a finished stream.
type CompletionInfo struct {
	// Generation throughput over the whole stream.
	// example: 42.7
	TokensPerSecond float64 `json:"tokens_per_second" example:"42.7"`
	// Number of tokens generated.
	// example: 256
	TokenCount int `json:"token_count" example:"256"`
	// Why generation stopped (stop, length, cancel).
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
}

// ToolCallInfo describes one tool invocation emitted by the model.
type ToolCallInfo struct {
	// Backend-assigned call identifier.
	// example: call_8f14
	ID string `json:"id,omitempty" example:"call_8f14"`
	// Function name being invoked.
	// example: get_weather
	Name string `json:"name" example:"get_weather"`
	// Raw JSON-encoded arguments.
	// example: {"city":"Oslo"}
	Arguments string `json:"arguments,omitempty" example:"{\"city\":\"Oslo\"}"`
}
