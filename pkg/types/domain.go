package types

// BackendID identifies a backend adapter family.
type BackendID string

const (
	// BackendLlamaCpp talks to a llama.cpp multimodal server over HTTP.
	BackendLlamaCpp BackendID = "llamacpp"
	// BackendOpenAI forwards to an OpenAI-compatible upstream (vLLM, ollama, ...).
	BackendOpenAI BackendID = "openai"
	// BackendGGUF runs a GGUF checkpoint in-process (requires the 'llama' build tag).
	BackendGGUF BackendID = "gguf"
)

// ModelEntry is one row of the model configuration table. Immutable after load.
type ModelEntry struct {
	// Name is the unique key clients use in the "model" request field.
	Name string `json:"name" yaml:"name" toml:"name"`
	// Backend selects the adapter family.
	Backend BackendID `json:"backend" yaml:"backend" toml:"backend"`
	// Checkpoint is a local path or remote id for the model weights.
	Checkpoint string `json:"checkpoint" yaml:"checkpoint" toml:"checkpoint"`
	// Endpoint is the base URL for server-backed families.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	// APIKey is sent as a bearer token to server-backed families when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	// Template names the chat template used to render prompts (chatml, vicuna, ...).
	Template string `json:"template,omitempty" yaml:"template,omitempty" toml:"template,omitempty"`
	// Device is an opaque accelerator spec passed to the adapter (e.g. cuda:0).
	Device string `json:"device,omitempty" yaml:"device,omitempty" toml:"device,omitempty"`
	// Defaults are generation parameters applied when the request omits them.
	Defaults GenerationParams `json:"defaults,omitempty" yaml:"defaults,omitempty" toml:"defaults,omitempty"`
	// Options carries backend-specific load options (context size, threads, ...).
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// GenerationParams are sampling/termination knobs for one generation.
// Pointer fields distinguish "unset" from an explicit zero.
type GenerationParams struct {
	MaxTokens   int       `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty" yaml:"top_p,omitempty" toml:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty" yaml:"stop,omitempty" toml:"stop,omitempty"`
	Seed        int64     `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"`
}

// Merge returns p overlaid with the fields set in override.
func (p GenerationParams) Merge(override GenerationParams) GenerationParams {
	out := p
	if override.MaxTokens > 0 {
		out.MaxTokens = override.MaxTokens
	}
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if len(override.Stop) > 0 {
		out.Stop = override.Stop
	}
	if override.Seed != 0 {
		out.Seed = override.Seed
	}
	return out
}

// FinishReason enumerates why generation stopped.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// Usage is the token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is the canonical adapter output.
type CompletionResult struct {
	Text         string
	FinishReason FinishReason
	Usage        Usage
}
