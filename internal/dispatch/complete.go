package dispatch

import (
	"context"
	"time"

	"github.com/azaj01/openedai-vision/internal/backend"
	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// Complete runs one chat completion end to end: normalize the messages,
// resolve (and if needed load) the model instance, pass admission, then
// preprocess and generate. When onDelta is non-nil the adapter streams and
// onDelta sees every text fragment in order; the returned result always
// carries the full aggregated text.
func (d *Dispatcher) Complete(ctx context.Context, req *types.ChatCompletionRequest, onDelta func(backend.Delta) error) (types.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = d.cfg.DefaultModel
	}
	if model == "" {
		return types.CompletionResult{}, vision.ErrInvalidRequest("model is required")
	}
	if len(req.Messages) == 0 {
		return types.CompletionResult{}, vision.ErrInvalidRequest("messages must not be empty")
	}

	// Normalize (including image fetch/decode) before taking any slot, so a
	// slow download never blocks the instance queue.
	prompt, err := d.normalizer.Normalize(ctx, req.Messages)
	if err != nil {
		return types.CompletionResult{}, err
	}

	inst, err := d.resolve(ctx, model)
	if err != nil {
		return types.CompletionResult{}, err
	}

	release, err := d.beginGeneration(ctx, inst)
	if err != nil {
		return types.CompletionResult{}, err
	}
	defer release()

	params := inst.Entry.Defaults.Merge(req.Params())
	if params.MaxTokens <= 0 {
		params.MaxTokens = defaultMaxTokens
	}

	if d.cfg.GenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.GenTimeout)
		defer cancel()
	}

	in, err := inst.adapter.Preprocess(ctx, prompt)
	if err != nil {
		return types.CompletionResult{}, err
	}

	started := time.Now()
	var res types.CompletionResult
	if onDelta != nil {
		res, err = inst.adapter.StreamGenerate(ctx, in, params, onDelta)
	} else {
		res, err = inst.adapter.Generate(ctx, in, params)
	}
	generationSeconds.WithLabelValues(model).Observe(time.Since(started).Seconds())
	if err != nil {
		generationsTotal.WithLabelValues(model, "error").Inc()
		d.publisher.Publish(Event{Name: "generation_error", Model: model, Fields: map[string]any{"error": err.Error()}})
		return res, err
	}
	generationsTotal.WithLabelValues(model, string(res.FinishReason)).Inc()
	completionTokens.WithLabelValues(model).Add(float64(res.Usage.CompletionTokens))
	d.publisher.Publish(Event{Name: "generation_done", Model: model, Fields: map[string]any{
		"finish_reason":     string(res.FinishReason),
		"completion_tokens": res.Usage.CompletionTokens,
	}})
	d.touch(inst)
	return res, nil
}

// Load warms up one model without running a generation.
func (d *Dispatcher) Load(ctx context.Context, name string) error {
	_, err := d.resolve(ctx, name)
	return err
}
