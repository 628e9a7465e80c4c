package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"inferd/internal/common/fsutil"
	"inferd/internal/progress"
	"inferd/pkg/types"
)

// ServerConfig tunes the llama-server subprocess backend.
type ServerConfig struct {
	// Path to the llama-server binary; resolved from PATH when empty.
	Bin  string
	Host string
	// Port range to bind spawned servers in; 0/0 picks any free port.
	PortStart int
	PortEnd   int
	CtxSize   int
	NGL       int
	Threads   int
	// How long a spawned server may take to report healthy. Zero applies
	// the default; large models legitimately take minutes.
	ReadyTimeout time.Duration
	Logger       zerolog.Logger
}

const defaultReadyTimeout = 120 * time.Second

// serverBackend materializes sessions by spawning one llama-server process
// per loaded model and talking to its HTTP surface.
type serverBackend struct {
	cfg  ServerConfig
	http *http.Client
	log  zerolog.Logger
}

// NewServer constructs the llama-server subprocess backend.
func NewServer(cfg ServerConfig) Backend {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	// No client timeout: generation streams are long-lived and cancelled
	// through the request context.
	return &serverBackend{cfg: cfg, http: &http.Client{Timeout: 0}, log: cfg.Logger}
}

func (b *serverBackend) resolveBin() (string, error) {
	bin := strings.TrimSpace(b.cfg.Bin)
	if bin == "" {
		lp, err := exec.LookPath("llama-server")
		if err != nil {
			return "", ErrUnavailable("llama-server not found: set server_bin or install llama.cpp")
		}
		return lp, nil
	}
	if fi, err := os.Stat(bin); err != nil || fi.IsDir() {
		return "", ErrUnavailable(fmt.Sprintf("llama-server not found or not a file: %s", bin))
	}
	return bin, nil
}

func (b *serverBackend) pickPort() (int, error) {
	if b.cfg.PortStart > 0 && b.cfg.PortEnd >= b.cfg.PortStart {
		for p := b.cfg.PortStart; p <= b.cfg.PortEnd; p++ {
			l, err := net.Listen("tcp", net.JoinHostPort(b.cfg.Host, strconv.Itoa(p)))
			if err != nil {
				continue
			}
			_ = l.Close()
			return p, nil
		}
		return 0, fmt.Errorf("no free port in range %d-%d", b.cfg.PortStart, b.cfg.PortEnd)
	}
	l, err := net.Listen("tcp", net.JoinHostPort(b.cfg.Host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Materialize spawns llama-server for spec and waits for it to report
// healthy. Progress is reported against the artifact size: zero at spawn,
// full once the server is ready.
func (b *serverBackend) Materialize(ctx context.Context, spec Spec, onProgress progress.Func) (Session, error) {
	bin, err := b.resolveBin()
	if err != nil {
		return nil, err
	}
	port, err := b.pickPort()
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", b.cfg.Host, port)

	args := []string{
		"-m", spec.ModelPath,
		"--host", b.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if spec.MMProjPath != "" {
		args = append(args, "--mmproj", spec.MMProjPath)
	}
	if fsutil.PathExists(spec.TemplatePath) {
		args = append(args, "--jinja", "--chat-template-file", spec.TemplatePath)
	}
	if b.cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(b.cfg.CtxSize))
	}
	if b.cfg.NGL > 0 {
		args = append(args, "-ngl", strconv.Itoa(b.cfg.NGL))
	}
	if b.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(b.cfg.Threads))
	}

	var total int64
	if fi, err := os.Stat(spec.ModelPath); err == nil {
		total = fi.Size()
	}
	if spec.MMProjPath != "" {
		if fi, err := os.Stat(spec.MMProjPath); err == nil {
			total += fi.Size()
		}
	}

	cmd := exec.Command(bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	b.log.Info().Str("model", spec.Name).Int("pid", cmd.Process.Pid).Int("port", port).Msg("llama-server spawned")
	if onProgress != nil {
		onProgress(0, total)
	}

	// Surface a non-zero exit before readiness instead of polling blindly.
	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	stop := func() {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-waitErrCh:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-waitErrCh
		}
	}

	deadline := time.Now().Add(b.cfg.ReadyTimeout)
	for {
		if err := ctx.Err(); err != nil {
			stop()
			return nil, err
		}
		if time.Now().After(deadline) {
			stop()
			b.log.Warn().Str("model", spec.Name).Msg("llama-server readiness timeout")
			return nil, fmt.Errorf("llama-server not ready in time: %s", baseURL)
		}
		select {
		case werr := <-waitErrCh:
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			if werr != nil {
				return nil, fmt.Errorf("llama-server exited early: %v; stderr tail: %s", werr, tail)
			}
			return nil, fmt.Errorf("llama-server exited before ready: %s", baseURL)
		default:
		}
		if b.healthy(ctx, baseURL) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if onProgress != nil {
		onProgress(total, total)
	}
	b.log.Info().Str("model", spec.Name).Str("url", baseURL).Msg("llama-server ready")

	oc := openai.DefaultConfig("")
	oc.BaseURL = baseURL + "/v1"
	oc.HTTPClient = b.http
	return &serverSession{
		spec:    spec,
		baseURL: baseURL,
		http:    b.http,
		openai:  openai.NewClientWithConfig(oc),
		stop:    stop,
		log:     b.log,
	}, nil
}

func (b *serverBackend) healthy(ctx context.Context, baseURL string) bool {
	hctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(hctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// serverSession is one loaded model behind a spawned llama-server.
type serverSession struct {
	spec    Spec
	baseURL string
	http    *http.Client
	openai  *openai.Client
	log     zerolog.Logger

	closeOnce sync.Once
	stop      func()
}

func (s *serverSession) PrepareInput(ctx context.Context, messages []types.Message) (Input, error) {
	return resolveInput(ctx, messages, s.spec.Kind == types.BackendVisionCapable)
}

func (s *serverSession) ApplyTemplate(ctx context.Context, messages []types.Message, template string, tools []types.Tool, extra map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return RenderTemplate(template, messages, tools, extra)
}

// Generate streams either the chat-completions endpoint (server-side
// templating, tools, vision) or the native completion endpoint when a
// template was already rendered locally into a raw prompt.
func (s *serverSession) Generate(ctx context.Context, input Input, params Params, onEvent func(Event) error) (Stats, error) {
	if input.RawPrompt != "" {
		return s.generateRaw(ctx, input.RawPrompt, params, onEvent)
	}
	return s.generateChat(ctx, input, params, onEvent)
}

func (s *serverSession) generateChat(ctx context.Context, input Input, params Params, onEvent func(Event) error) (Stats, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.spec.Name,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
		Stream:      true,
		Messages:    toOpenAIMessages(input),
	}
	for _, t := range params.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	start := time.Now()
	stream, err := s.openai.CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Stats{}, ctx.Err()
		}
		return Stats{}, err
	}
	defer stream.Close()

	var (
		stats Stats
		calls = map[int]*types.ToolCallInfo{}
		order []int
	)
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			return stats, err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			stats.TokenCount++
			if cbErr := onEvent(Event{Token: choice.Delta.Content}); cbErr != nil {
				return stats, cbErr
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call := calls[idx]
			if call == nil {
				call = &types.ToolCallInfo{}
				calls[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			stats.FinishReason = string(choice.FinishReason)
		}
	}
	for _, idx := range order {
		if cbErr := onEvent(Event{ToolCall: calls[idx]}); cbErr != nil {
			return stats, cbErr
		}
	}
	stats.Duration = time.Since(start)
	if stats.FinishReason == "" {
		stats.FinishReason = "stop"
	}
	return stats, nil
}

// toOpenAIMessages converts prepared input, inlining attachments as data
// URLs on their owning messages.
func toOpenAIMessages(input Input) []openai.ChatCompletionMessage {
	byMsg := map[int][][]byte{}
	for _, a := range input.Attachments {
		byMsg[a.MessageIndex] = append(byMsg[a.MessageIndex], a.Data)
	}
	out := make([]openai.ChatCompletionMessage, len(input.Messages))
	for i, m := range input.Messages {
		om := openai.ChatCompletionMessage{Role: string(m.Role)}
		if imgs := byMsg[i]; len(imgs) > 0 {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
			for _, data := range imgs {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
					},
				})
			}
			om.MultiContent = parts
		} else {
			om.Content = m.Content
		}
		out[i] = om
	}
	return out
}

// nativeCompletionRequest is llama-server's own /completion payload.
type nativeCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	Temperature float32  `json:"temperature,omitempty"`
	TopP        float32  `json:"top_p,omitempty"`
	NPredict    int      `json:"n_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type nativeCompletionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
	Timings struct {
		PredictedN  int     `json:"predicted_n"`
		PredictedMS float64 `json:"predicted_ms"`
	} `json:"timings"`
	StopType string `json:"stop_type"`
}

// generateRaw streams the native completion endpoint with a locally
// rendered prompt, bypassing server-side chat templating.
func (s *serverSession) generateRaw(ctx context.Context, prompt string, params Params, onEvent func(Event) error) (Stats, error) {
	payload := nativeCompletionRequest{
		Prompt:      prompt,
		Stream:      true,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		NPredict:    params.MaxTokens,
		Stop:        params.Stop,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return Stats{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Stats{}, ctx.Err()
		}
		return Stats{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Stats{}, fmt.Errorf("llama-server http error: %s: %s", resp.Status, string(b))
	}

	var stats Stats
	r := bufio.NewReader(resp.Body)
	for {
		line, readErr := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(l, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(l, "data:"))
			var chunk nativeCompletionChunk
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr == nil {
				if chunk.Content != "" {
					stats.TokenCount++
					if cbErr := onEvent(Event{Token: chunk.Content}); cbErr != nil {
						return stats, cbErr
					}
				}
				if chunk.Stop {
					if chunk.Timings.PredictedN > 0 {
						stats.TokenCount = chunk.Timings.PredictedN
					}
					if chunk.StopType != "" {
						stats.FinishReason = chunk.StopType
					}
					break
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			return stats, readErr
		}
	}
	stats.Duration = time.Since(start)
	if stats.FinishReason == "" {
		stats.FinishReason = "stop"
	}
	return stats, nil
}

// Close terminates the spawned server, SIGTERM first then a hard kill.
// Returns once the process has exited and its memory is reclaimed.
func (s *serverSession) Close() error {
	s.closeOnce.Do(func() {
		s.log.Info().Str("model", s.spec.Name).Msg("stopping llama-server")
		s.stop()
	})
	return nil
}
