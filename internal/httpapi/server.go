package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azaj01/openedai-vision/internal/backend"
	"github.com/azaj01/openedai-vision/internal/openai"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models() []string
	Status() types.StatusResponse
	Complete(ctx context.Context, req *types.ChatCompletionRequest, onDelta func(backend.Delta) error) (types.CompletionResult, error)
	Load(ctx context.Context, name string) error
	Unload(name string) error
	Ready() bool
}

func NewMux(svc Service) http.Handler {
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
		r.Post("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
			handleChatCompletions(svc, w, r)
		})
		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			handleListModels(svc, w)
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Route("/admin/models/{name}", func(r chi.Router) {
		r.Post("/load", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			joined, cancel := joinContexts(serverBaseCtx, r.Context())
			defer cancel()
			if err := svc.Load(joined, name); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, map[string]string{"model": name, "state": "ready"})
		})
		r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			if err := svc.Unload(name); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, map[string]string{"model": name, "state": "unloaded"})
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

func handleListModels(svc Service, w http.ResponseWriter) {
	names := svc.Models()
	list := types.ModelList{Object: "list", Data: make([]types.ModelInfo, 0, len(names))}
	created := time.Now().Unix()
	for _, name := range names {
		list.Data = append(list.Data, types.ModelInfo{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "visiond",
		})
	}
	writeJSON(w, list)
}

func handleChatCompletions(svc Service, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}

	// Shutdown cancels in-flight work along with client disconnects.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	if !req.Stream {
		res, err := svc.Complete(ctx, &req, nil)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			logCompletion(r, req.Model, statusOf(err), false, start, err)
			writeMappedError(w, err)
			return
		}
		logCompletion(r, req.Model, http.StatusOK, false, start, nil)
		writeJSON(w, openai.Response(openai.NewCompletionID(), req.Model, time.Now(), res))
		return
	}

	// Streaming: the SSE writer is created lazily on the first delta so that
	// errors raised before any token still go out as a JSON error response.
	id := openai.NewCompletionID()
	created := time.Now()
	var sw *openai.StreamWriter
	res, err := svc.Complete(ctx, &req, func(d backend.Delta) error {
		if sw == nil {
			var werr error
			sw, werr = openai.NewStreamWriter(w, id, req.Model, created)
			if werr != nil {
				return werr
			}
		}
		return sw.Delta(d.Text)
	})
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		logCompletion(r, req.Model, statusOf(err), true, start, err)
		if sw == nil {
			writeMappedError(w, err)
			return
		}
		// Headers already went out as 200; surface the failure in-band.
		sw.Fail(err)
		return
	}
	if sw == nil {
		var werr error
		sw, werr = openai.NewStreamWriter(w, id, req.Model, created)
		if werr != nil {
			writeMappedError(w, werr)
			return
		}
	}
	if err := sw.Finish(res); err != nil {
		logCompletion(r, req.Model, http.StatusOK, true, start, err)
		return
	}
	logCompletion(r, req.Model, http.StatusOK, true, start, nil)
}

func statusOf(err error) int {
	status, _ := mapError(err)
	return status
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", "failed to encode response")
	}
}
