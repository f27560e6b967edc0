package backend

import (
	"fmt"
	"strings"
	"testing"

	"github.com/azaj01/openedai-vision/internal/vision"
)

func userTurn(segs ...vision.Segment) vision.Message {
	return vision.Message{Role: "user", Segments: segs}
}

func text(s string) vision.Segment  { return vision.Segment{Text: s} }
func img() vision.Segment           { return vision.Segment{Image: &vision.Image{}} }

func TestRenderChatML(t *testing.T) {
	p := vision.Prompt{Messages: []vision.Message{
		{Role: "system", Segments: []vision.Segment{text("Be terse.")}},
		userTurn(img(), text("What is this?")),
	}}
	got, _, err := RenderPrompt("chatml", p, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<|im_start|>system\nBe terse.<|im_end|>" +
		"<|im_start|>user\n<image>\nWhat is this?<|im_end|>" +
		"<|im_start|>assistant\n"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestRenderVicunaMultiTurn(t *testing.T) {
	p := vision.Prompt{Messages: []vision.Message{
		userTurn(img(), text("Describe.")),
		{Role: "assistant", Segments: []vision.Segment{text("A cat.")}},
		userTurn(text("What color?")),
	}}
	got, _, err := RenderPrompt("vicuna", p, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "USER: <image>\nDescribe.\nASSISTANT: A cat.\nUSER: What color?\nASSISTANT:"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestRenderLlama3(t *testing.T) {
	p := vision.Prompt{Messages: []vision.Message{
		userTurn(img(), text("hi ")),
	}}
	got, _, err := RenderPrompt("llama3", p, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<|start_header_id|>user<|end_header_id|>\n\n<image>hi<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestRenderPhi3NumbersImages(t *testing.T) {
	p := vision.Prompt{Messages: []vision.Message{
		userTurn(img(), text("first")),
		userTurn(img(), text("second")),
	}}
	got, _, err := RenderPrompt("phi3", p, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "<|image_1|>") || !strings.Contains(got, "<|image_2|>") {
		t.Fatalf("image numbering missing: %q", got)
	}
}

func TestRenderAssistantPrefill(t *testing.T) {
	p := vision.Prompt{Messages: []vision.Message{
		userTurn(text("Count to three.")),
		{Role: "assistant", Segments: []vision.Segment{text("one, two,")}},
	}}
	got, _, err := RenderPrompt("chatml", p, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasSuffix(got, "<|im_start|>assistant\none, two,") {
		t.Fatalf("prefill not applied: %q", got)
	}
}

func TestRenderPrefillImageNotNumbered(t *testing.T) {
	userImg := vision.Image{Data: []byte("user-image")}
	p := vision.Prompt{Messages: []vision.Message{
		userTurn(vision.Segment{Image: &userImg}, text("describe")),
		{Role: "assistant", Segments: []vision.Segment{
			{Image: &vision.Image{Data: []byte("prefill-image")}},
			text("It shows"),
		}},
	}}
	got, placed, err := RenderPrompt("chatml", p, func(n int) string {
		return fmt.Sprintf("[img-%d]", n)
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// The dropped prefill image must not shift the user marker.
	if !strings.Contains(got, "[img-1]describe") {
		t.Fatalf("user marker shifted: %q", got)
	}
	if strings.Contains(got, "[img-2]") {
		t.Fatalf("prefill image was numbered: %q", got)
	}
	if len(placed) != 1 || string(placed[0].Data) != "user-image" {
		t.Fatalf("placed=%v", placed)
	}
	if !strings.HasSuffix(got, "<|im_start|>assistant\nIt shows") {
		t.Fatalf("prefill text missing: %q", got)
	}
}

func TestRenderCustomImageToken(t *testing.T) {
	p := vision.Prompt{Messages: []vision.Message{
		userTurn(img(), img(), text("both")),
	}}
	got, _, err := RenderPrompt("chatml", p, func(n int) string {
		return "[img-" + string(rune('0'+n)) + "]"
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "[img-1][img-2]both") {
		t.Fatalf("custom tokens not applied: %q", got)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := RenderPrompt("mistral-tekken", vision.Prompt{}, nil)
	if err == nil || !IsPreprocessError(err) {
		t.Fatalf("expected preprocess error, got %v", err)
	}
}

func TestRenderGemmaSystemFold(t *testing.T) {
	p := vision.Prompt{Messages: []vision.Message{
		{Role: "system", Segments: []vision.Segment{text("sys")}},
		userTurn(text("q")),
	}}
	got, _, err := RenderPrompt("gemma", p, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<start_of_turn>system\nsys<end_of_turn><start_of_turn>user\nq<end_of_turn><start_of_turn>model\n"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}
