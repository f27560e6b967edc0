package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/azaj01/openedai-vision/pkg/types"
)

func fakeUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/chat/completions", handler)
	return httptest.NewServer(mux)
}

func openaiEntry(url string) types.ModelEntry {
	return types.ModelEntry{
		Name:       "remote-vlm",
		Backend:    types.BackendOpenAI,
		Checkpoint: "llava-v1.6",
		Endpoint:   url + "/v1",
		APIKey:     "sk-test",
	}
}

func TestOpenAICompatGenerate(t *testing.T) {
	var got upstreamRequest
	var auth string
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fr := "stop"
		_ = json.NewEncoder(w).Encode(types.ChatCompletionResponse{
			Choices: []types.Choice{{
				Message:      types.AssistantMessage{Role: "assistant", Content: "A cat on a mat."},
				FinishReason: fr,
			}},
			Usage: types.Usage{PromptTokens: 11, CompletionTokens: 6, TotalTokens: 17},
		})
	})
	defer srv.Close()

	a, err := Open(openaiEntry(srv.URL))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	in, err := a.Preprocess(context.Background(), demoPrompt())
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	res, err := a.Generate(context.Background(), in, types.GenerationParams{MaxTokens: 128})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "A cat on a mat." || res.FinishReason != types.FinishStop {
		t.Fatalf("result=%+v", res)
	}
	if res.Usage.TotalTokens != 17 {
		t.Fatalf("usage=%+v", res.Usage)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("auth=%q", auth)
	}
	// The upstream sees the checkpoint name, not the local alias.
	if got.Model != "llava-v1.6" {
		t.Fatalf("model=%q", got.Model)
	}
	if len(got.Messages) != 1 || len(got.Messages[0].Content) != 2 {
		t.Fatalf("messages=%+v", got.Messages)
	}
	imgPart := got.Messages[0].Content[0]
	if imgPart.Type != "image_url" || imgPart.ImageURL == nil ||
		!strings.HasPrefix(imgPart.ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("image part=%+v", imgPart)
	}
	if got.Messages[0].Content[1].Text != "Describe this." {
		t.Fatalf("text part=%+v", got.Messages[0].Content[1])
	}
}

func TestOpenAICompatStream(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var req upstreamRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			http.Error(w, "expected streaming request with usage", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		send := func(c types.ChatCompletionChunk) {
			b, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		send(types.ChatCompletionChunk{Choices: []types.ChunkChoice{{Delta: types.ChunkDelta{Content: "Hel"}}}})
		send(types.ChatCompletionChunk{Choices: []types.ChunkChoice{{Delta: types.ChunkDelta{Content: "lo."}}}})
		fr := "length"
		send(types.ChatCompletionChunk{Choices: []types.ChunkChoice{{FinishReason: &fr}}})
		send(types.ChatCompletionChunk{Usage: &types.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}})
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer srv.Close()

	a, err := Open(openaiEntry(srv.URL))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	in, _ := a.Preprocess(context.Background(), demoPrompt())

	var deltas []string
	res, err := a.StreamGenerate(context.Background(), in, types.GenerationParams{}, func(d Delta) error {
		deltas = append(deltas, d.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := strings.Join(deltas, ""); got != "Hello." {
		t.Fatalf("deltas=%q", got)
	}
	if res.Text != "Hello." || res.FinishReason != types.FinishLength {
		t.Fatalf("result=%+v", res)
	}
	if res.Usage.TotalTokens != 7 {
		t.Fatalf("usage=%+v", res.Usage)
	}
}

func TestOpenAICompatNoChoices(t *testing.T) {
	srv := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.ChatCompletionResponse{})
	})
	defer srv.Close()

	a, err := Open(openaiEntry(srv.URL))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	in, _ := a.Preprocess(context.Background(), demoPrompt())
	_, err = a.Generate(context.Background(), in, types.GenerationParams{})
	if err == nil || !IsInferenceError(err) {
		t.Fatalf("expected inference error, got %v", err)
	}
}
