package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/manager"
	"inferd/internal/progress"
	"inferd/pkg/types"
)

// Service defines the engine surface consumed by the HTTP API layer.
type Service interface {
	Models() []types.ModelSummary
	ModelSummary(name string) (types.ModelSummary, error)
	Pull(ctx context.Context, name string, onProgress progress.Func) error
	DeleteModel(name string) error
	Generate(ctx context.Context, req types.GenerateRequest) (*manager.Stream, error)
	Unload(ctx context.Context) error
	Status() types.StatusResponse
	Ready() bool
}

// EventFeed exposes lifecycle events for the websocket feed. Nil disables
// the /v1/events route.
type EventFeed interface {
	Subscribe() (<-chan manager.Event, func())
}

// NewMux builds the HTTP API over svc.
func NewMux(svc Service, feed EventFeed) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", handleModels(svc))
		r.Get("/models/{name}", handleModel(svc))
		r.Post("/models/{name}/pull", handlePull(svc))
		r.Delete("/models/{name}", handleDelete(svc))
		r.Post("/generate", handleGenerate(svc))
		r.Post("/unload", handleUnload(svc))
		if feed != nil {
			r.Get("/events", handleEvents(feed))
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !svc.Ready() {
			writeJSONError(w, http.StatusServiceUnavailable, "no model loaded")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())
	MountSwagger(r)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// handleModels godoc
// @Summary List catalog models with artifact state
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /v1/models [get]
func handleModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.Models()})
	}
}

// handleModel godoc
// @Summary One catalog model with artifact state
// @Produce json
// @Param name path string true "model name"
// @Success 200 {object} types.ModelSummary
// @Failure 404 {object} types.ErrorResponse
// @Router /v1/models/{name} [get]
func handleModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := svc.ModelSummary(chi.URLParam(r, "name"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, sum)
	}
}

// handlePull godoc
// @Summary Download a model artifact, streaming NDJSON progress
// @Produce json
// @Param name path string true "model name"
// @Success 200 {object} types.PullEvent
// @Failure 404 {object} types.ErrorResponse
// @Router /v1/models/{name}/pull [post]
func handlePull(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		enc := json.NewEncoder(w)
		writeEvent := func(ev types.PullEvent) {
			_ = enc.Encode(ev)
			if flush != nil {
				flush()
			}
		}

		// Progress callbacks arrive per copied buffer; throttle the NDJSON
		// lines so a multi-GB pull doesn't emit millions of them.
		var last time.Time
		onProgress := func(completed, total int64) {
			if time.Since(last) < 200*time.Millisecond && completed != total {
				return
			}
			last = time.Now()
			writeEvent(types.PullEvent{Status: "pulling", Completed: completed, Total: total})
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.Pull(ctx, name, onProgress); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			if manager.IsUnknownModel(err) {
				// Nothing streamed yet for unknown names; plain 404.
				writeDomainError(w, err)
				return
			}
			writeEvent(types.PullEvent{Status: "error", Error: err.Error()})
			return
		}
		writeEvent(types.PullEvent{Status: "success"})
	}
}

// handleDelete godoc
// @Summary Delete a model artifact
// @Param name path string true "model name"
// @Success 204
// @Failure 404 {object} types.ErrorResponse
// @Router /v1/models/{name} [delete]
func handleDelete(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteModel(chi.URLParam(r, "name")); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGenerate godoc
// @Summary Stream generation events as NDJSON
// @Accept json
// @Produce json
// @Param request body types.GenerateRequest true "generation request"
// @Success 200 {object} types.GenerationEvent
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Router /v1/generate [post]
func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		if len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "messages are required")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("path", r.URL.Path).Str("model", req.Model)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("generate start")
		}

		// Join server base context with request context so shutdown cancels
		// in-flight streams too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		stream, err := svc.Generate(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeDomainError(w, err)
			return
		}
		defer stream.Cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		enc := json.NewEncoder(writer)
		for ev := range stream.C() {
			if err := enc.Encode(ev); err != nil {
				stream.Cancel()
				break
			}
			if flush != nil {
				flush()
			}
		}
		if serr := stream.Err(); serr != nil && ctx.Err() == nil {
			// The stream started; termination cause goes out as a final line.
			_ = enc.Encode(types.ErrorResponse{Error: serr.Error(), Code: statusForError(serr)})
			if flush != nil {
				flush()
			}
		}
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("model", req.Model).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Err(stream.Err()).Msg("generate end")
		}
	}
}

// handleUnload godoc
// @Summary Unload the current session
// @Success 204
// @Router /v1/unload [post]
func handleUnload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Unload(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
