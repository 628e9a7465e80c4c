package types

// GenerateRequest is the payload for POST /v1/generate and the entry type of
// the generation engine. Model must name a catalog entry.
type GenerateRequest struct {
	// Required model identity from the catalog.
	// example: qwen2.5-1.5b-instruct
	Model string `json:"model" example:"qwen2.5-1.5b-instruct"`
	// Conversation to generate a reply for, oldest message first.
	Messages []Message `json:"messages"`
	// Tools offered to the model. Supplying any switches generation to the
	// tool-calling sampling profile.
	Tools []Tool `json:"tools,omitempty"`
	// Maximum number of new tokens; 0 lets the backend decide (or 2048 when
	// tools are supplied).
	// example: 512
	MaxTokens int `json:"max_tokens,omitempty" example:"512"`
	// Literal Jinja template text replacing the model's default template for
	// this request only.
	TemplateOverride string `json:"template_override,omitempty"`
	// Additional stop tokens recognized for this request only.
	// example: ["<|im_end|>"]
	ExtraStopTokens []string `json:"extra_stop_tokens,omitempty" example:"[\"<|im_end|>\"]"`
	// Extra template context passed through to template rendering.
	Extra map[string]any `json:"extra,omitempty"`
	// Caller-supplied request id; assigned when empty.
	// example: 7f0c7a4e-8e9b-4b7e-9f5a-0d1c2b3a4d5e
	RequestID string `json:"request_id,omitempty" example:"7f0c7a4e-8e9b-4b7e-9f5a-0d1c2b3a4d5e"`
}

// ModelSummary joins a catalog descriptor with its artifact state for
// GET /v1/models.
type ModelSummary struct {
	// Unique model identity.
	// example: qwen2.5-1.5b-instruct
	Name string `json:"name" example:"qwen2.5-1.5b-instruct"`
	// Human-friendly name.
	// example: Qwen 2.5 1.5B Instruct
	DisplayName string `json:"display_name" example:"Qwen 2.5 1.5B Instruct"`
	// Backend family.
	// example: text-only
	Kind BackendKind `json:"kind" example:"text-only"`
	// Whether tool calling is supported.
	// example: true
	ToolCalling bool `json:"tool_calling" example:"true"`
	// On-disk artifact state at query time.
	Artifact ArtifactState `json:"artifact"`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	// Catalog models in declaration order.
	Models []ModelSummary `json:"models"`
}

// PullEvent is one NDJSON line of a POST /v1/models/{name}/pull stream.
type PullEvent struct {
	// Phase of the pull (pulling, success, error).
	// example: pulling
	Status string `json:"status" example:"pulling"`
	// Bytes completed so far.
	// example: 104857600
	Completed int64 `json:"completed,omitempty" example:"104857600"`
	// Total bytes expected.
	// example: 1073741824
	Total int64 `json:"total,omitempty" example:"1073741824"`
	// Error message when Status is "error".
	Error string `json:"error,omitempty"`
}

// LoadingStatus describes the in-flight load for /status.
type LoadingStatus struct {
	// Model being loaded.
	// example: qwen2.5-1.5b-instruct
	Model string `json:"model" example:"qwen2.5-1.5b-instruct"`
	// Bytes completed of the current phase (download or materialization).
	// example: 104857600
	Completed int64 `json:"completed" example:"104857600"`
	// Total bytes of the current phase; 0 when unknown.
	// example: 1073741824
	Total int64 `json:"total" example:"1073741824"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Session cache state (empty, loading, ready).
	// example: ready
	State string `json:"state" example:"ready"`
	// Currently loaded model, when State is "ready".
	// example: qwen2.5-1.5b-instruct
	Current string `json:"current,omitempty" example:"qwen2.5-1.5b-instruct"`
	// In-flight load, when State is "loading".
	Loading *LoadingStatus `json:"loading,omitempty"`
	// Total successful session loads since start.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total evictions performed to free memory.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total artifact downloads completed since start.
	// example: 3
	DownloadsTotal uint64 `json:"downloads_total" example:"3"`
	// Last load or download error observed, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
