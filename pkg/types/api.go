package types

import (
	"encoding/json"
	"fmt"
)

// ImageURL is the image reference inside an image_url content part.
type ImageURL struct {
	// URL is an http(s) URL or a data URI.
	URL string `json:"url"`
	// Detail is one of low, high or auto. Empty means auto.
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one element of an array-form message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// MessageContent accepts both the string and array forms of the OpenAI
// "content" field. A bare string decodes to a single text part.
type MessageContent []ContentPart

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = MessageContent{{Type: "text", Text: s}}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of content parts: %w", err)
	}
	*c = parts
	return nil
}

// ChatMessage is one turn of the incoming conversation.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// StopList accepts both a single string and an array of strings.
type StopList []string

func (s *StopList) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = StopList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("stop must be a string or an array of strings: %w", err)
	}
	*s = many
	return nil
}

// StreamOptions mirrors the OpenAI stream_options object.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model               string         `json:"model"`
	Messages            []ChatMessage  `json:"messages"`
	MaxTokens           int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64       `json:"temperature,omitempty"`
	TopP                *float64       `json:"top_p,omitempty"`
	Stop                StopList       `json:"stop,omitempty"`
	Seed                int64          `json:"seed,omitempty"`
	Stream              bool           `json:"stream,omitempty"`
	StreamOptions       *StreamOptions `json:"stream_options,omitempty"`
	User                string         `json:"user,omitempty"`
}

// Params collapses the request's generation knobs into GenerationParams.
// max_completion_tokens wins over the deprecated max_tokens.
func (r ChatCompletionRequest) Params() GenerationParams {
	p := GenerationParams{
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stop:        []string(r.Stop),
		Seed:        r.Seed,
	}
	if r.MaxCompletionTokens > 0 {
		p.MaxTokens = r.MaxCompletionTokens
	}
	return p
}

// AssistantMessage is the message object inside a completion choice.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one completion alternative (this server always returns one).
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ChunkDelta is the incremental part of a streamed choice.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice of a streamed chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE data payload of a streaming response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the GET /v1/models response body.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorBody follows the OpenAI error envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse wraps ErrorBody the way OpenAI clients expect.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// InstanceStatus summarizes one cached adapter instance for GET /status.
type InstanceStatus struct {
	Model         string `json:"model"`
	Backend       string `json:"backend"`
	State         string `json:"state"`
	LastUsed      int64  `json:"last_used_unix"`
	QueueLen      int    `json:"queue_len"`
	Inflight      int    `json:"inflight"`
	MaxQueueDepth int    `json:"max_queue_depth"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances      []InstanceStatus `json:"instances"`
	LoadsTotal     uint64           `json:"loads_total"`
	LoadErrors     uint64           `json:"load_errors_total"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	ServerTimeUnix int64            `json:"server_time_unix"`
}
