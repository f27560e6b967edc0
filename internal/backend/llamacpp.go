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
	"strings"
	"time"

	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

func init() {
	register(types.BackendLlamaCpp, newLlamaCpp)
}

// llamaCppAdapter talks to a llama.cpp multimodal server over HTTP using the
// native /completion endpoint. The prompt carries [img-N] markers that the
// server substitutes with the image_data entry of the same id.
type llamaCppAdapter struct {
	name     string
	template string
	base     string
	apiKey   string
	client   *http.Client
}

func newLlamaCpp(entry types.ModelEntry) (Adapter, error) {
	tmpl := entry.Template
	if tmpl == "" {
		tmpl = "chatml"
	}
	if !KnownTemplate(tmpl) {
		return nil, ErrLoad(fmt.Sprintf("model %q: unknown chat template %q", entry.Name, tmpl))
	}
	a := &llamaCppAdapter{
		name:     entry.Name,
		template: tmpl,
		base:     strings.TrimRight(entry.Endpoint, "/"),
		apiKey:   entry.APIKey,
		client:   newRuntimeClient(),
	}
	// Loading means binding to a live runtime; an unreachable server is a
	// load failure, not an inference failure.
	if err := a.ping(); err != nil {
		return nil, ErrLoad(fmt.Sprintf("model %q: llama.cpp server unreachable at %s: %v", entry.Name, a.base, err))
	}
	return a, nil
}

// newRuntimeClient builds the pooled HTTP client shared by the server-backed
// adapters. Per-request deadlines come from the caller's context, so the
// client itself carries no timeout.
func newRuntimeClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 0}
}

func (a *llamaCppAdapter) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// llamaImageData is one entry of the /completion image_data array.
type llamaImageData struct {
	Data string `json:"data"`
	ID   int    `json:"id"`
}

type llamaCppInput struct {
	prompt string
	images []llamaImageData
}

func (llamaCppInput) isModelInput() {}

func (a *llamaCppAdapter) Preprocess(ctx context.Context, p vision.Prompt) (ModelInput, error) {
	prompt, placed, err := RenderPrompt(a.template, p, func(n int) string {
		return fmt.Sprintf("[img-%d]", n)
	})
	if err != nil {
		return nil, err
	}
	// Only images that got a marker are sent; ids match marker numbers.
	var images []llamaImageData
	for i, img := range placed {
		images = append(images, llamaImageData{
			Data: base64.StdEncoding.EncodeToString(img.Data),
			ID:   i + 1,
		})
	}
	return llamaCppInput{prompt: prompt, images: images}, nil
}

// completionRequest is the native llama.cpp server payload.
type completionRequest struct {
	Prompt      string           `json:"prompt"`
	NPredict    int              `json:"n_predict,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Seed        int64            `json:"seed,omitempty"`
	Stream      bool             `json:"stream"`
	CachePrompt bool             `json:"cache_prompt"`
	ImageData   []llamaImageData `json:"image_data,omitempty"`
}

type completionResponse struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	StoppedEOS      bool   `json:"stopped_eos"`
	StoppedWord     bool   `json:"stopped_word"`
	StoppedLimit    bool   `json:"stopped_limit"`
	TokensPredicted int    `json:"tokens_predicted"`
	TokensEvaluated int    `json:"tokens_evaluated"`
}

func (a *llamaCppAdapter) buildRequest(in llamaCppInput, params types.GenerationParams, stream bool) completionRequest {
	return completionRequest{
		Prompt:      in.prompt,
		NPredict:    params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stop:        params.Stop,
		Seed:        params.Seed,
		Stream:      stream,
		CachePrompt: true,
		ImageData:   in.images,
	}
}

func (a *llamaCppAdapter) post(ctx context.Context, payload completionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrInference("encode request: " + err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, ErrInference(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrInference("llama.cpp server: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, ErrInference(fmt.Sprintf("llama.cpp server: %s: %s", resp.Status, bytes.TrimSpace(b)))
	}
	return resp, nil
}

func (a *llamaCppAdapter) Generate(ctx context.Context, in ModelInput, params types.GenerationParams) (types.CompletionResult, error) {
	li, ok := in.(llamaCppInput)
	if !ok {
		return types.CompletionResult{}, ErrInference("model input is not a llamacpp input")
	}
	resp, err := a.post(ctx, a.buildRequest(li, params, false))
	if err != nil {
		return types.CompletionResult{}, err
	}
	defer resp.Body.Close()
	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return types.CompletionResult{}, ErrInference("decode response: " + err.Error())
	}
	return a.result(cr, cr.Content), nil
}

func (a *llamaCppAdapter) StreamGenerate(ctx context.Context, in ModelInput, params types.GenerationParams, onDelta func(Delta) error) (types.CompletionResult, error) {
	li, ok := in.(llamaCppInput)
	if !ok {
		return types.CompletionResult{}, ErrInference("model input is not a llamacpp input")
	}
	resp, err := a.post(ctx, a.buildRequest(li, params, true))
	if err != nil {
		return types.CompletionResult{}, err
	}
	defer resp.Body.Close()

	var (
		text  strings.Builder
		final completionResponse
	)
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if chunk := strings.TrimSpace(line); chunk != "" {
			// The server emits SSE "data: {...}" lines; older builds stream
			// bare NDJSON objects.
			chunk = strings.TrimSpace(strings.TrimPrefix(chunk, "data:"))
			var cr completionResponse
			if uerr := json.Unmarshal([]byte(chunk), &cr); uerr == nil {
				if cr.Content != "" {
					text.WriteString(cr.Content)
					if cbErr := onDelta(Delta{Text: cr.Content}); cbErr != nil {
						return a.result(cr, text.String()), cbErr
					}
				}
				if cr.Stop {
					final = cr
					break
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return a.result(final, text.String()), ctx.Err()
			}
			return a.result(final, text.String()), ErrInference("stream read: " + err.Error())
		}
	}
	return a.result(final, text.String()), nil
}

func (a *llamaCppAdapter) result(cr completionResponse, text string) types.CompletionResult {
	reason := types.FinishStop
	if cr.StoppedLimit {
		reason = types.FinishLength
	}
	usage := types.Usage{
		PromptTokens:     cr.TokensEvaluated,
		CompletionTokens: cr.TokensPredicted,
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = estimateTokens(text)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return types.CompletionResult{Text: text, FinishReason: reason, Usage: usage}
}

func (a *llamaCppAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
