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
	"net/http"
	"strings"
	"time"

	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

func init() {
	register(types.BackendOpenAI, newOpenAICompat)
}

// openAICompatAdapter forwards to an OpenAI-compatible upstream (vLLM,
// ollama, another visiond). Images travel as data URIs inside native
// image_url content parts; the upstream applies its own chat template, so no
// local template rendering happens here.
type openAICompatAdapter struct {
	name   string
	model  string
	base   string
	apiKey string
	client *http.Client
}

func newOpenAICompat(entry types.ModelEntry) (Adapter, error) {
	model := entry.Checkpoint
	if model == "" {
		model = entry.Name
	}
	a := &openAICompatAdapter{
		name:   entry.Name,
		model:  model,
		base:   strings.TrimRight(entry.Endpoint, "/"),
		apiKey: entry.APIKey,
		client: newRuntimeClient(),
	}
	if err := a.ping(); err != nil {
		return nil, ErrLoad(fmt.Sprintf("model %q: upstream unreachable at %s: %v", entry.Name, a.base, err))
	}
	return a, nil
}

func (a *openAICompatAdapter) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/models", nil)
	if err != nil {
		return err
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type openAIInput struct {
	messages []types.ChatMessage
}

func (openAIInput) isModelInput() {}

func (a *openAICompatAdapter) Preprocess(ctx context.Context, p vision.Prompt) (ModelInput, error) {
	msgs := make([]types.ChatMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		content := make(types.MessageContent, 0, len(m.Segments))
		for _, s := range m.Segments {
			if s.Image != nil {
				uri := "data:" + s.Image.MIME + ";base64," + base64.StdEncoding.EncodeToString(s.Image.Data)
				content = append(content, types.ContentPart{
					Type:     "image_url",
					ImageURL: &types.ImageURL{URL: uri, Detail: s.Image.Detail},
				})
				continue
			}
			content = append(content, types.ContentPart{Type: "text", Text: s.Text})
		}
		msgs = append(msgs, types.ChatMessage{Role: m.Role, Content: content})
	}
	return openAIInput{messages: msgs}, nil
}

// upstreamRequest is the subset of the chat-completions body we send on.
type upstreamRequest struct {
	Model         string               `json:"model"`
	Messages      []types.ChatMessage  `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	Stop          []string             `json:"stop,omitempty"`
	Seed          int64                `json:"seed,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *types.StreamOptions `json:"stream_options,omitempty"`
}

func (a *openAICompatAdapter) post(ctx context.Context, payload upstreamRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrInference("encode request: " + err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/chat/completions", bytes.NewReader(body))
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
		return nil, ErrInference("upstream: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, ErrInference(fmt.Sprintf("upstream: %s: %s", resp.Status, bytes.TrimSpace(b)))
	}
	return resp, nil
}

func (a *openAICompatAdapter) Generate(ctx context.Context, in ModelInput, params types.GenerationParams) (types.CompletionResult, error) {
	oi, ok := in.(openAIInput)
	if !ok {
		return types.CompletionResult{}, ErrInference("model input is not an openai input")
	}
	resp, err := a.post(ctx, upstreamRequest{
		Model:       a.model,
		Messages:    oi.messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stop:        params.Stop,
		Seed:        params.Seed,
	})
	if err != nil {
		return types.CompletionResult{}, err
	}
	defer resp.Body.Close()
	var cr types.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return types.CompletionResult{}, ErrInference("decode response: " + err.Error())
	}
	if len(cr.Choices) == 0 {
		return types.CompletionResult{}, ErrInference("upstream returned no choices")
	}
	out := types.CompletionResult{
		Text:         cr.Choices[0].Message.Content,
		FinishReason: mapFinishReason(cr.Choices[0].FinishReason),
		Usage:        cr.Usage,
	}
	if out.Usage.CompletionTokens == 0 {
		out.Usage.CompletionTokens = estimateTokens(out.Text)
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	return out, nil
}

func (a *openAICompatAdapter) StreamGenerate(ctx context.Context, in ModelInput, params types.GenerationParams, onDelta func(Delta) error) (types.CompletionResult, error) {
	oi, ok := in.(openAIInput)
	if !ok {
		return types.CompletionResult{}, ErrInference("model input is not an openai input")
	}
	resp, err := a.post(ctx, upstreamRequest{
		Model:         a.model,
		Messages:      oi.messages,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		Stop:          params.Stop,
		Seed:          params.Seed,
		Stream:        true,
		StreamOptions: &types.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return types.CompletionResult{}, err
	}
	defer resp.Body.Close()

	var (
		text   strings.Builder
		reason types.FinishReason
		usage  types.Usage
	)
	result := func() types.CompletionResult {
		out := types.CompletionResult{Text: text.String(), FinishReason: reason, Usage: usage}
		if out.FinishReason == "" {
			out.FinishReason = types.FinishStop
		}
		if out.Usage.CompletionTokens == 0 {
			out.Usage.CompletionTokens = estimateTokens(out.Text)
			out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
		}
		return out
	}

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if chunk := strings.TrimSpace(line); chunk != "" && strings.HasPrefix(chunk, "data:") {
			data := strings.TrimSpace(chunk[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var c types.ChatCompletionChunk
			if uerr := json.Unmarshal([]byte(data), &c); uerr == nil {
				if c.Usage != nil {
					usage = *c.Usage
				}
				if len(c.Choices) > 0 {
					if frag := c.Choices[0].Delta.Content; frag != "" {
						text.WriteString(frag)
						if cbErr := onDelta(Delta{Text: frag}); cbErr != nil {
							return result(), cbErr
						}
					}
					if fr := c.Choices[0].FinishReason; fr != nil && *fr != "" {
						reason = mapFinishReason(*fr)
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return result(), ctx.Err()
			}
			return result(), ErrInference("stream read: " + err.Error())
		}
	}
	return result(), nil
}

func mapFinishReason(s string) types.FinishReason {
	switch s {
	case "length":
		return types.FinishLength
	case "", "stop":
		return types.FinishStop
	}
	return types.FinishReason(s)
}

func (a *openAICompatAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
