package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"inferd/pkg/types"
)

func jsonDecode(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func TestResolveBin(t *testing.T) {
	b := &serverBackend{cfg: ServerConfig{Bin: filepath.Join(t.TempDir(), "nope")}}
	if _, err := b.resolveBin(); !IsUnavailable(err) {
		t.Fatalf("missing binary: %v", err)
	}

	b = &serverBackend{cfg: ServerConfig{Bin: t.TempDir()}}
	if _, err := b.resolveBin(); !IsUnavailable(err) {
		t.Fatalf("directory accepted as binary: %v", err)
	}

	bin := filepath.Join(t.TempDir(), "llama-server")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	b = &serverBackend{cfg: ServerConfig{Bin: bin}}
	got, err := b.resolveBin()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != bin {
		t.Fatalf("resolved: %s", got)
	}
}

func TestPickPortRange(t *testing.T) {
	b := &serverBackend{cfg: ServerConfig{Host: "127.0.0.1", PortStart: 40150, PortEnd: 40160}}
	p, err := b.pickPort()
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if p < 40150 || p > 40160 {
		t.Fatalf("port %d outside range", p)
	}

	b = &serverBackend{cfg: ServerConfig{Host: "127.0.0.1"}}
	if p, err = b.pickPort(); err != nil || p == 0 {
		t.Fatalf("ephemeral pick: %d %v", p, err)
	}
}

func TestMaterializeUnavailableBinary(t *testing.T) {
	be := NewServer(ServerConfig{Bin: filepath.Join(t.TempDir(), "absent")})
	_, err := be.Materialize(context.Background(), Spec{Name: "alpha"}, nil)
	if !IsUnavailable(err) {
		t.Fatalf("want unavailable, got %v", err)
	}
}

// sseLine formats one server-sent event carrying a native completion chunk.
func sseLine(body string) string { return "data: " + body + "\n\n" }

func TestGenerateRawStreamsNativeCompletion(t *testing.T) {
	var gotReq nativeCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			http.NotFound(w, r)
			return
		}
		if err := jsonDecode(r, &gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprint(w, sseLine(`{"content":"`+tok+`"}`))
			fl.Flush()
		}
		fmt.Fprint(w, sseLine(`{"content":"","stop":true,"stop_type":"eos","timings":{"predicted_n":7,"predicted_ms":120.5}}`))
		fl.Flush()
	}))
	defer srv.Close()

	s := &serverSession{
		spec:    Spec{Name: "alpha", Kind: types.BackendTextOnly},
		baseURL: srv.URL,
		http:    srv.Client(),
		stop:    func() {},
	}
	var text string
	stats, err := s.Generate(context.Background(), Input{RawPrompt: "<|user|>hi"}, Params{
		Temperature: 0.7,
		MaxTokens:   32,
		Stop:        []string{"<|im_end|>"},
	}, func(ev Event) error {
		text += ev.Token
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Hello" {
		t.Fatalf("streamed: %q", text)
	}
	// The server's own token accounting wins over chunk counting.
	if stats.TokenCount != 7 {
		t.Fatalf("token count: %d", stats.TokenCount)
	}
	if stats.FinishReason != "eos" {
		t.Fatalf("finish reason: %q", stats.FinishReason)
	}
	if stats.Duration <= 0 {
		t.Fatalf("duration: %v", stats.Duration)
	}

	if gotReq.Prompt != "<|user|>hi" || !gotReq.Stream {
		t.Fatalf("request: %+v", gotReq)
	}
	if gotReq.NPredict != 32 || len(gotReq.Stop) != 1 {
		t.Fatalf("request params: %+v", gotReq)
	}
}

func TestGenerateRawServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model blew up", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := &serverSession{spec: Spec{Name: "alpha"}, baseURL: srv.URL, http: srv.Client(), stop: func() {}}
	_, err := s.generateRaw(context.Background(), "prompt", Params{}, func(Event) error { return nil })
	if err == nil {
		t.Fatal("server error swallowed")
	}
}

func TestServerSessionPrepareInputGatesVision(t *testing.T) {
	s := &serverSession{spec: Spec{Name: "alpha", Kind: types.BackendTextOnly}, stop: func() {}}
	in, err := s.PrepareInput(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "hi", Images: []string{"/does/not/exist.png"}},
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	// Text-only sessions ignore image references instead of failing on them.
	if len(in.Attachments) != 0 {
		t.Fatalf("attachments: %d", len(in.Attachments))
	}
}
