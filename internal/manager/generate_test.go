package manager

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"inferd/pkg/types"
)

func TestGenerateStreamsChunksAndCompletion(t *testing.T) {
	be := &fakeBackend{tokens: []string{"Hello", ",", " world"}}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	st, err := m.Generate(context.Background(), types.GenerateRequest{
		Model:    "alpha",
		Messages: userMessages("hi"),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if st.RequestID() == "" {
		t.Fatal("empty request id")
	}

	evs := drainStream(t, st)
	if st.Err() != nil {
		t.Fatalf("stream error: %v", st.Err())
	}
	if len(evs) != 4 {
		t.Fatalf("event count: %d, want 3 chunks + completion", len(evs))
	}
	var text string
	for _, ev := range evs[:3] {
		if ev.Type != types.EventChunk {
			t.Fatalf("event type: %s", ev.Type)
		}
		text += ev.Chunk
	}
	if text != "Hello, world" {
		t.Fatalf("streamed text: %q", text)
	}
	last := evs[3]
	if last.Type != types.EventCompletion || last.Completion == nil {
		t.Fatalf("terminal event: %+v", last)
	}
	if last.Completion.TokenCount != 3 {
		t.Fatalf("token count: %d", last.Completion.TokenCount)
	}
	if last.Completion.TokensPerSecond <= 0 {
		t.Fatalf("tokens/s: %f", last.Completion.TokensPerSecond)
	}
	if last.Completion.FinishReason != "stop" {
		t.Fatalf("finish reason: %q", last.Completion.FinishReason)
	}
}

func TestGenerateLoadsModelOnDemand(t *testing.T) {
	be := &fakeBackend{tokens: []string{"ok"}}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	if m.Ready() {
		t.Fatal("ready before any load")
	}
	st, err := m.Generate(context.Background(), types.GenerateRequest{Model: "alpha", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	drainStream(t, st)
	if !m.IsLoaded("alpha") {
		t.Fatal("model not loaded after generate")
	}
}

func TestGenerateValidation(t *testing.T) {
	be := &fakeBackend{}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	if _, err := m.Generate(context.Background(), types.GenerateRequest{Model: "nope", Messages: userMessages("hi")}); !IsUnknownModel(err) {
		t.Fatalf("unknown model: %v", err)
	}
	if _, err := m.Generate(context.Background(), types.GenerateRequest{Model: "alpha"}); err == nil {
		t.Fatal("empty messages accepted")
	}
	if got := be.materializeCount(); got != 0 {
		t.Fatalf("materialize count after rejected requests: %d", got)
	}
}

func TestGenerateCancellation(t *testing.T) {
	block := make(chan struct{})
	be := &fakeBackend{tokens: []string{"a", "b", "c"}, block: block}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	st, err := m.Generate(context.Background(), types.GenerateRequest{Model: "alpha", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Receive the already-produced chunks, then cancel mid-stream.
	var got []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-st.C():
			got = append(got, ev.Chunk)
		case <-time.After(5 * time.Second):
			t.Fatal("chunk not delivered")
		}
	}
	st.Cancel()

	deadline := time.After(5 * time.Second)
drain:
	for {
		select {
		case ev, ok := <-st.C():
			if !ok {
				break drain
			}
			if ev.Type == types.EventCompletion {
				t.Fatal("completion event after cancel")
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancel")
		}
	}
	if !errors.Is(st.Err(), context.Canceled) {
		t.Fatalf("stream error: %v", st.Err())
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("delivered chunks: %v", got)
	}
	// Cancelling a stream never disturbs the session cache.
	if !m.IsLoaded("alpha") {
		t.Fatal("model unloaded by cancellation")
	}
	if be.lastSession().isClosed() {
		t.Fatal("session closed by cancellation")
	}

	// The cell stays usable for the next request.
	st2, err := m.Generate(context.Background(), types.GenerateRequest{Model: "alpha", Messages: userMessages("again")})
	if err != nil {
		t.Fatalf("generate after cancel: %v", err)
	}
	close(block)
	drainStream(t, st2)
	if st2.Err() != nil {
		t.Fatalf("second stream error: %v", st2.Err())
	}
}

func TestGenerateStopTokensAreRequestScoped(t *testing.T) {
	be := &fakeBackend{tokens: []string{"x"}}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	st, err := m.Generate(context.Background(), types.GenerateRequest{
		Model:           "alpha",
		Messages:        userMessages("hi"),
		ExtraStopTokens: []string{"STOP", "\n\n"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	drainStream(t, st)
	got := be.lastSession().generateParams().Stop
	want := []string{"<|im_end|>", "STOP", "\n\n"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("stop set: %v, want %v", got, want)
	}

	// The extras never leak into the next request.
	st2, err := m.Generate(context.Background(), types.GenerateRequest{Model: "alpha", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	drainStream(t, st2)
	if got := be.lastSession().generateParams().Stop; !reflect.DeepEqual(got, []string{"<|im_end|>"}) {
		t.Fatalf("stop set leaked extras: %v", got)
	}
}

func TestGenerateSamplingProfiles(t *testing.T) {
	be := &fakeBackend{tokens: []string{"x"}}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	run := func(req types.GenerateRequest) {
		t.Helper()
		st, err := m.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		drainStream(t, st)
	}

	run(types.GenerateRequest{Model: "alpha", Messages: userMessages("hi")})
	p := be.lastSession().generateParams()
	if p.Temperature != chatTemperature || p.TopP != 0 || p.MaxTokens != 0 {
		t.Fatalf("chat profile: %+v", p)
	}

	tools := []types.Tool{{Name: "lookup"}}
	run(types.GenerateRequest{Model: "alpha", Messages: userMessages("hi"), Tools: tools})
	p = be.lastSession().generateParams()
	if p.Temperature != toolTemperature || p.TopP != toolTopP || p.MaxTokens != toolMaxTokens {
		t.Fatalf("tool profile: %+v", p)
	}

	run(types.GenerateRequest{Model: "alpha", Messages: userMessages("hi"), Tools: tools, MaxTokens: 64})
	if p = be.lastSession().generateParams(); p.MaxTokens != 64 {
		t.Fatalf("explicit budget not honored: %+v", p)
	}
}

func TestGenerateTemplateOverride(t *testing.T) {
	be := &fakeBackend{tokens: []string{"x"}}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	run := func(req types.GenerateRequest) {
		t.Helper()
		st, err := m.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		drainStream(t, st)
		if st.Err() != nil {
			t.Fatalf("stream error: %v", st.Err())
		}
	}

	tmpl := "{% for m in messages %}<|{{ m.role }}|>{{ m.content }}{% endfor %}"
	run(types.GenerateRequest{Model: "alpha", Messages: userMessages("hi"), TemplateOverride: tmpl})
	in := be.lastSession().generateInput()
	if in.RawPrompt != "<|user|>hi" {
		t.Fatalf("rendered prompt: %q", in.RawPrompt)
	}

	// The conventional Extra key works too and is filtered from the context.
	run(types.GenerateRequest{
		Model:    "alpha",
		Messages: userMessages("hi"),
		Extra:    map[string]any{"chat_template": "{{ messages.0.content }}"},
	})
	if in = be.lastSession().generateInput(); in.RawPrompt != "hi" {
		t.Fatalf("extra-key prompt: %q", in.RawPrompt)
	}
}

func TestGenerateTemplateFallback(t *testing.T) {
	be := &fakeBackend{tokens: []string{"fine"}}
	m, store := newTestManager(t, be, testManagerOpts{})
	placeArtifact(t, store, "alpha")

	// A broken override degrades to default preparation instead of failing.
	st, err := m.Generate(context.Background(), types.GenerateRequest{
		Model:            "alpha",
		Messages:         userMessages("hi"),
		TemplateOverride: "{% for m in messages %}{{ m.role }",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	evs := drainStream(t, st)
	if st.Err() != nil {
		t.Fatalf("stream error: %v", st.Err())
	}
	if len(evs) == 0 {
		t.Fatal("no events after fallback")
	}
	if in := be.lastSession().generateInput(); in.RawPrompt != "" {
		t.Fatalf("broken override produced a raw prompt: %q", in.RawPrompt)
	}
}
