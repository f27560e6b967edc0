// Package backend defines the adapter contract between the generic
// chat-completions surface and concrete model families, plus one adapter
// implementation per supported family. The adapter is the only code that
// knows a model library's calling convention; nothing outside this package
// branches on model identity.
package backend

import (
	"context"
	"fmt"

	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// Delta is one streamed fragment of generated text.
type Delta struct {
	Text string
}

// ModelInput is the family-native form of a normalized prompt. Each adapter
// returns its own concrete type from Preprocess and accepts only that type
// back in Generate.
type ModelInput interface {
	isModelInput()
}

// Adapter is the per-family translation layer. Implementations own any
// loaded weights or upstream connections and are closed exactly once by the
// dispatcher. Generation calls against one Adapter are serialized by the
// dispatcher; adapters do not need to be safe for concurrent generation.
type Adapter interface {
	// Preprocess converts the normalized prompt into the family's native
	// input: chat-template rendering, image token interleaving, payload
	// encoding. Fails with a PreprocessError on unsupported input.
	Preprocess(ctx context.Context, p vision.Prompt) (ModelInput, error)

	// Generate runs one completion to the end. Fails with an InferenceError
	// on runtime failure; such failures are surfaced, never retried, because
	// model state after a failed step is not guaranteed consistent.
	Generate(ctx context.Context, in ModelInput, params types.GenerationParams) (types.CompletionResult, error)

	// StreamGenerate runs one completion, invoking onDelta for each text
	// fragment in generation order. The stream is finite and not
	// restartable; returning an error from onDelta stops generation at the
	// next token boundary. The returned result aggregates the full text.
	StreamGenerate(ctx context.Context, in ModelInput, params types.GenerationParams, onDelta func(Delta) error) (types.CompletionResult, error)

	// Close releases weights, sessions and connections.
	Close() error
}

// Factory builds an adapter for one model entry. Construction is the "load"
// step: it may allocate accelerator memory and must fail with a LoadError on
// missing weights or an unreachable runtime.
type Factory func(entry types.ModelEntry) (Adapter, error)

var factories = map[types.BackendID]Factory{}

func register(id types.BackendID, f Factory) {
	factories[id] = f
}

// Known reports whether id names a registered adapter family.
func Known(id types.BackendID) bool {
	_, ok := factories[id]
	return ok
}

// Open instantiates the adapter for entry. Factory failures come back as
// LoadErrors so the dispatcher can reset the cache slot and callers can
// distinguish them from request-scoped faults.
func Open(entry types.ModelEntry) (Adapter, error) {
	f, ok := factories[entry.Backend]
	if !ok {
		return nil, ErrLoad(fmt.Sprintf("model %q: no adapter for backend %q", entry.Name, entry.Backend))
	}
	a, err := f(entry)
	if err != nil {
		if IsLoadError(err) {
			return nil, err
		}
		return nil, ErrLoad(fmt.Sprintf("model %q: %v", entry.Name, err))
	}
	return a, nil
}
