// Package openai shapes completion results into the OpenAI chat-completions
// wire format, for both JSON responses and SSE streams.
package openai

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/azaj01/openedai-vision/pkg/types"
)

// NewCompletionID returns a fresh chatcmpl identifier.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Response builds the non-streaming response body for one result.
func Response(id, model string, created time.Time, res types.CompletionResult) types.ChatCompletionResponse {
	return types.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created.Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.AssistantMessage{Role: "assistant", Content: res.Text},
			FinishReason: string(res.FinishReason),
		}},
		Usage: res.Usage,
	}
}

func chunk(id, model string, created time.Time, choices []types.ChunkChoice) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created.Unix(),
		Model:   model,
		Choices: choices,
	}
}

// RoleChunk is the stream-opening chunk that primes the assistant role.
func RoleChunk(id, model string, created time.Time) types.ChatCompletionChunk {
	return chunk(id, model, created, []types.ChunkChoice{{
		Index: 0,
		Delta: types.ChunkDelta{Role: "assistant"},
	}})
}

// ContentChunk carries one text fragment.
func ContentChunk(id, model string, created time.Time, text string) types.ChatCompletionChunk {
	return chunk(id, model, created, []types.ChunkChoice{{
		Index: 0,
		Delta: types.ChunkDelta{Content: text},
	}})
}

// FinishChunk closes the stream with the finish reason and usage.
func FinishChunk(id, model string, created time.Time, res types.CompletionResult) types.ChatCompletionChunk {
	reason := string(res.FinishReason)
	c := chunk(id, model, created, []types.ChunkChoice{{
		Index:        0,
		Delta:        types.ChunkDelta{},
		FinishReason: &reason,
	}})
	usage := res.Usage
	c.Usage = &usage
	return c
}
