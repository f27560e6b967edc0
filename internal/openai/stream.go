package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/azaj01/openedai-vision/pkg/types"
)

// StreamWriter emits chat.completion.chunk events as an SSE stream. The
// first content delta is preceded by a role-priming chunk; Finish writes the
// finish-reason chunk and the [DONE] sentinel.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	created time.Time
	primed  bool
}

// NewStreamWriter prepares w for SSE and returns the writer. Fails when the
// underlying ResponseWriter cannot flush.
func NewStreamWriter(w http.ResponseWriter, id, model string, created time.Time) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &StreamWriter{w: w, flusher: flusher, id: id, model: model, created: created}, nil
}

func (s *StreamWriter) send(c types.ChatCompletionChunk) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Delta streams one text fragment. Empty fragments are dropped.
func (s *StreamWriter) Delta(text string) error {
	if !s.primed {
		if err := s.send(RoleChunk(s.id, s.model, s.created)); err != nil {
			return err
		}
		s.primed = true
	}
	if text == "" {
		return nil
	}
	return s.send(ContentChunk(s.id, s.model, s.created, text))
}

// Fail surfaces an error on an already-started stream and terminates it.
// The error travels in-band as an OpenAI error envelope because the 200
// status line is already on the wire.
func (s *StreamWriter) Fail(err error) {
	b, merr := json.Marshal(types.ErrorResponse{Error: types.ErrorBody{
		Message: err.Error(),
		Type:    "api_error",
	}})
	if merr != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

// Finish closes the stream. A stream that produced no deltas still gets the
// role chunk so clients always see a well-formed sequence.
func (s *StreamWriter) Finish(res types.CompletionResult) error {
	if !s.primed {
		if err := s.send(RoleChunk(s.id, s.model, s.created)); err != nil {
			return err
		}
		s.primed = true
	}
	if err := s.send(FinishChunk(s.id, s.model, s.created, res)); err != nil {
		return err
	}
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
