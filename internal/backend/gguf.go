//go:build llama

package backend

import (
	"context"
	"fmt"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// ggufBuilt indicates this binary was compiled with in-process gguf support.
var ggufBuilt = true

func init() {
	register(types.BackendGGUF, newGGUF)
}

// ggufAdapter runs a GGUF checkpoint in-process through go-llama.cpp. The
// binding has no vision tower, so this family serves text-only conversations.
type ggufAdapter struct {
	name     string
	template string
	model    *llama.LLama
	threads  int
}

func newGGUF(entry types.ModelEntry) (Adapter, error) {
	if strings.TrimSpace(entry.Checkpoint) == "" {
		return nil, ErrLoad(fmt.Sprintf("model %q: empty checkpoint path", entry.Name))
	}
	tmpl := entry.Template
	if tmpl == "" {
		tmpl = "chatml"
	}
	if !KnownTemplate(tmpl) {
		return nil, ErrLoad(fmt.Sprintf("model %q: unknown chat template %q", entry.Name, tmpl))
	}
	ctxSize := intOption(entry.Options, "context_size", 2048)
	mo := []llama.ModelOption{llama.SetContext(ctxSize)}
	if gpu := intOption(entry.Options, "gpu_layers", 0); gpu > 0 {
		mo = append(mo, llama.SetGPULayers(gpu))
	}
	m, err := llama.New(entry.Checkpoint, mo...)
	if err != nil {
		return nil, ErrLoad(fmt.Sprintf("model %q: %v", entry.Name, err))
	}
	return &ggufAdapter{
		name:     entry.Name,
		template: tmpl,
		model:    m,
		threads:  intOption(entry.Options, "threads", 4),
	}, nil
}

func intOption(opts map[string]any, key string, def int) int {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

type ggufInput struct {
	prompt string
}

func (ggufInput) isModelInput() {}

func (a *ggufAdapter) Preprocess(ctx context.Context, p vision.Prompt) (ModelInput, error) {
	if p.ImageCount() > 0 {
		return nil, ErrPreprocess(fmt.Sprintf("model %q: gguf backend does not accept images", a.name))
	}
	prompt, _, err := RenderPrompt(a.template, p, nil)
	if err != nil {
		return nil, err
	}
	return ggufInput{prompt: prompt}, nil
}

func (a *ggufAdapter) Generate(ctx context.Context, in ModelInput, params types.GenerationParams) (types.CompletionResult, error) {
	return a.StreamGenerate(ctx, in, params, func(Delta) error { return nil })
}

func (a *ggufAdapter) StreamGenerate(ctx context.Context, in ModelInput, params types.GenerationParams, onDelta func(Delta) error) (types.CompletionResult, error) {
	gi, ok := in.(ggufInput)
	if !ok {
		return types.CompletionResult{}, ErrInference("model input is not a gguf input")
	}
	if a.model == nil {
		return types.CompletionResult{}, ErrInference("gguf model already closed")
	}

	var cbErr error
	a.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onDelta(Delta{Text: tok}); err != nil {
			cbErr = err
			return false
		}
		return true
	})

	text, err := a.model.Predict(gi.prompt, a.predictOptions(params)...)
	if err != nil {
		if ctx.Err() != nil {
			return types.CompletionResult{}, ctx.Err()
		}
		return types.CompletionResult{}, ErrInference(err.Error())
	}
	if cbErr != nil {
		return types.CompletionResult{}, cbErr
	}
	if ctx.Err() != nil {
		return types.CompletionResult{}, ctx.Err()
	}

	usage := types.Usage{
		PromptTokens:     estimateTokens(gi.prompt),
		CompletionTokens: estimateTokens(text),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	reason := types.FinishStop
	if params.MaxTokens > 0 && usage.CompletionTokens >= params.MaxTokens {
		reason = types.FinishLength
	}
	return types.CompletionResult{Text: text, FinishReason: reason, Usage: usage}, nil
}

func (a *ggufAdapter) predictOptions(params types.GenerationParams) []llama.PredictOption {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	po := []llama.PredictOption{
		llama.SetTokens(maxTokens),
		llama.SetThreads(a.threads),
	}
	if params.Temperature != nil {
		po = append(po, llama.SetTemperature(float32(*params.Temperature)))
	}
	if params.TopP != nil {
		po = append(po, llama.SetTopP(float32(*params.TopP)))
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(int(params.Seed)))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}

func (a *ggufAdapter) Close() error {
	if a.model != nil {
		a.model.Free()
		a.model = nil
	}
	return nil
}
