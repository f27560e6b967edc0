package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/azaj01/openedai-vision/internal/backend"
	"github.com/azaj01/openedai-vision/internal/dispatch"
	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// mockService scripts Service behavior per test.
type mockService struct {
	models     []string
	status     types.StatusResponse
	ready      bool
	completeFn func(ctx context.Context, req *types.ChatCompletionRequest, onDelta func(backend.Delta) error) (types.CompletionResult, error)
	loadFn     func(ctx context.Context, name string) error
	unloadFn   func(name string) error
}

func (m *mockService) Models() []string             { return m.models }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) Complete(ctx context.Context, req *types.ChatCompletionRequest, onDelta func(backend.Delta) error) (types.CompletionResult, error) {
	if m.completeFn == nil {
		return types.CompletionResult{}, nil
	}
	return m.completeFn(ctx, req, onDelta)
}

func (m *mockService) Load(ctx context.Context, name string) error {
	if m.loadFn == nil {
		return nil
	}
	return m.loadFn(ctx, name)
}

func (m *mockService) Unload(name string) error {
	if m.unloadFn == nil {
		return nil
	}
	return m.unloadFn(name)
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const minimalBody = `{"model":"demo-vlm","messages":[{"role":"user","content":"hi"}]}`

func TestListModels(t *testing.T) {
	h := NewMux(&mockService{models: []string{"a-model", "b-model"}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var list types.ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 || list.Data[0].ID != "a-model" {
		t.Fatalf("list=%+v", list)
	}
}

func TestChatCompletionsJSON(t *testing.T) {
	var seen *types.ChatCompletionRequest
	svc := &mockService{completeFn: func(ctx context.Context, req *types.ChatCompletionRequest, onDelta func(backend.Delta) error) (types.CompletionResult, error) {
		seen = req
		if onDelta != nil {
			t.Error("non-streaming request got a delta callback")
		}
		return types.CompletionResult{
			Text:         "hello there",
			FinishReason: types.FinishStop,
			Usage:        types.Usage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5},
		}, nil
	}}
	rec := postJSON(t, NewMux(svc), "/v1/chat/completions", minimalBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "chat.completion" || !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Choices[0].Message.Content != "hello there" || resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("choice=%+v", resp.Choices[0])
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage=%+v", resp.Usage)
	}
	if seen == nil || seen.Model != "demo-vlm" || len(seen.Messages) != 1 {
		t.Fatalf("service saw %+v", seen)
	}
	// string content repacked into one text part
	if c := seen.Messages[0].Content; len(c) != 1 || c[0].Text != "hi" {
		t.Fatalf("content=%+v", c)
	}
}

func TestChatCompletionsStream(t *testing.T) {
	svc := &mockService{completeFn: func(ctx context.Context, req *types.ChatCompletionRequest, onDelta func(backend.Delta) error) (types.CompletionResult, error) {
		for _, tok := range []string{"Hel", "lo."} {
			if err := onDelta(backend.Delta{Text: tok}); err != nil {
				return types.CompletionResult{}, err
			}
		}
		return types.CompletionResult{Text: "Hello.", FinishReason: types.FinishStop}, nil
	}}
	body := `{"model":"demo-vlm","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := postJSON(t, NewMux(svc), "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	var text strings.Builder
	var finish string
	sawDone := false
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		var c types.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		if len(c.Choices) > 0 {
			text.WriteString(c.Choices[0].Delta.Content)
			if fr := c.Choices[0].FinishReason; fr != nil {
				finish = *fr
			}
		}
	}
	if text.String() != "Hello." || finish != "stop" || !sawDone {
		t.Fatalf("text=%q finish=%q done=%v", text.String(), finish, sawDone)
	}
}

func TestChatCompletionsErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		errType string
	}{
		{"unknown model", dispatch.ErrUnknownModel("nope"), http.StatusNotFound, "UnknownModelError"},
		{"bad image", vision.ErrInvalidImage("undecodable"), http.StatusBadRequest, "InvalidImageError"},
		{"bad request", vision.ErrInvalidRequest("messages must not be empty"), http.StatusBadRequest, "invalid_request_error"},
		{"too busy", dispatch.ErrTooBusy("demo-vlm"), http.StatusTooManyRequests, "TooBusyError"},
		{"preprocess", backend.ErrPreprocess("images not accepted"), http.StatusBadRequest, "PreprocessError"},
		{"load", backend.ErrLoad("runtime unreachable"), http.StatusInternalServerError, "LoadError"},
		{"inference", backend.ErrInference("oom"), http.StatusInternalServerError, "InferenceError"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TimeoutError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{completeFn: func(ctx context.Context, req *types.ChatCompletionRequest, onDelta func(backend.Delta) error) (types.CompletionResult, error) {
				return types.CompletionResult{}, tc.err
			}}
			rec := postJSON(t, NewMux(svc), "/v1/chat/completions", minimalBody)
			if rec.Code != tc.status {
				t.Fatalf("status=%d want %d", rec.Code, tc.status)
			}
			var er types.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if er.Error.Type != tc.errType {
				t.Fatalf("type=%q want %q", er.Error.Type, tc.errType)
			}
		})
	}
}

func TestChatCompletionsBadBody(t *testing.T) {
	h := NewMux(&mockService{})
	if rec := postJSON(t, h, "/v1/chat/completions", "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(minimalBody)))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	ready := &mockService{ready: true}
	h := NewMux(ready)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz=%d", rec.Code)
	}
	h = NewMux(&mockService{ready: false})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz not ready=%d", rec.Code)
	}
}

func TestAdminLoadUnload(t *testing.T) {
	var loaded, unloaded string
	svc := &mockService{
		loadFn:   func(ctx context.Context, name string) error { loaded = name; return nil },
		unloadFn: func(name string) error { unloaded = name; return nil },
	}
	h := NewMux(svc)
	rec := postJSON(t, h, "/admin/models/demo-vlm/load", "")
	if rec.Code != http.StatusOK || loaded != "demo-vlm" {
		t.Fatalf("load status=%d loaded=%q", rec.Code, loaded)
	}
	rec = postJSON(t, h, "/admin/models/demo-vlm/unload", "")
	if rec.Code != http.StatusOK || unloaded != "demo-vlm" {
		t.Fatalf("unload status=%d unloaded=%q", rec.Code, unloaded)
	}

	svc.unloadFn = func(name string) error { return dispatch.ErrUnknownModel(name) }
	rec = postJSON(t, h, "/admin/models/ghost/unload", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unload unknown=%d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{
		LoadsTotal: 3,
		Instances:  []types.InstanceStatus{{Model: "demo-vlm", State: "ready"}},
	}}
	rec := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.LoadsTotal != 3 || len(st.Instances) != 1 {
		t.Fatalf("st=%+v", st)
	}
}
