package backend

import (
	"fmt"
	"strings"

	"github.com/azaj01/openedai-vision/internal/vision"
)

// Chat templates render a normalized prompt into the token stream a model
// family was trained on. Image segments become per-family placeholder tokens
// whose position the runtime substitutes with vision embeddings.

// imageTokens numbers image placeholders across the whole conversation and
// records each placed image in placement order. Only images that actually get
// a placeholder advance the counter, so marker numbers and the placed list
// stay in lockstep.
type imageTokens struct {
	f      func(int) string
	placed []vision.Image
}

func (t *imageTokens) place(img vision.Image) string {
	t.placed = append(t.placed, img)
	return t.f(len(t.placed))
}

type templateFunc func(msgs []vision.Message, tok *imageTokens) string

var templates = map[string]templateFunc{
	"chatml": renderChatML,
	"vicuna": renderVicuna,
	"llama2": renderLlama2,
	"llama3": renderLlama3,
	"gemma":  renderGemma,
	"phi3":   renderPhi3,
}

// defaultImageToken is used when the caller does not dictate the placeholder
// syntax, e.g. when rendering for an in-process tokenizer.
var defaultImageToken = map[string]func(int) string{
	"chatml": func(int) string { return "<image>\n" },
	"vicuna": func(int) string { return "<image>\n" },
	"llama2": func(int) string { return "<image>\n" },
	"llama3": func(int) string { return "<image>" },
	"gemma":  func(int) string { return "<image>\n" },
	"phi3":   func(n int) string { return fmt.Sprintf("<|image_%d|>\n", n) },
}

// KnownTemplate reports whether name is a supported chat template.
func KnownTemplate(name string) bool {
	_, ok := templates[name]
	return ok
}

// TemplateNames lists the supported chat templates.
func TemplateNames() []string {
	out := make([]string, 0, len(templates))
	for n := range templates {
		out = append(out, n)
	}
	return out
}

// RenderPrompt renders p with the named template. imgTok produces the
// placeholder for the i-th image (1-based); nil selects the family default.
// The second return value lists the images that received a placeholder, in
// marker order; images the template drops (e.g. in an assistant prefill) are
// absent from it.
func RenderPrompt(name string, p vision.Prompt, imgTok func(int) string) (string, []vision.Image, error) {
	render, ok := templates[name]
	if !ok {
		return "", nil, ErrPreprocess(fmt.Sprintf("unknown chat template %q", name))
	}
	if imgTok == nil {
		imgTok = defaultImageToken[name]
	}
	tok := &imageTokens{f: imgTok}
	return render(p.Messages, tok), tok.placed, nil
}

// splitTurn collapses one message into its image placeholder run and its
// concatenated text. Families that do not interleave images mid-text place
// the placeholder run before the text, matching how these models were
// trained.
func splitTurn(m vision.Message, tok *imageTokens) (imgTag, text string) {
	var sb strings.Builder
	for _, s := range m.Segments {
		if s.Image != nil {
			imgTag += tok.place(*s.Image)
			continue
		}
		sb.WriteString(s.Text)
	}
	return imgTag, sb.String()
}

// turnText concatenates the text segments of m. Turns rendered text-only must
// use this rather than splitTurn so their dropped images never advance the
// placeholder counter.
func turnText(m vision.Message) string {
	var sb strings.Builder
	for _, s := range m.Segments {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// popPrefill removes a trailing assistant message so templates with a
// generation header can seed the assistant turn with its text. Any images in
// the prefill are dropped without numbering.
func popPrefill(msgs []vision.Message) ([]vision.Message, string) {
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != "assistant" {
		return msgs, ""
	}
	return msgs[:len(msgs)-1], turnText(msgs[len(msgs)-1])
}

func renderChatML(msgs []vision.Message, tok *imageTokens) string {
	var b strings.Builder
	msgs, prefill := popPrefill(msgs)
	for _, m := range msgs {
		switch m.Role {
		case "user":
			img, text := splitTurn(m, tok)
			fmt.Fprintf(&b, "<|im_start|>user\n%s%s<|im_end|>", img, text)
		case "assistant":
			fmt.Fprintf(&b, "<|im_start|>assistant\n%s<|im_end|>", turnText(m))
		case "system":
			fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>", turnText(m))
		}
	}
	b.WriteString("<|im_start|>assistant\n")
	b.WriteString(prefill)
	return b.String()
}

func renderVicuna(msgs []vision.Message, tok *imageTokens) string {
	var b strings.Builder
	msgs, prefill := popPrefill(msgs)
	for _, m := range msgs {
		switch m.Role {
		case "user":
			img, text := splitTurn(m, tok)
			fmt.Fprintf(&b, "USER: %s%s\n", img, text)
		case "assistant":
			fmt.Fprintf(&b, "ASSISTANT: %s\n", turnText(m))
		case "system":
			fmt.Fprintf(&b, "%s\n\n", turnText(m))
		}
	}
	b.WriteString("ASSISTANT:")
	b.WriteString(prefill)
	return b.String()
}

func renderLlama2(msgs []vision.Message, tok *imageTokens) string {
	// llama2 has no generation header; a trailing assistant message simply
	// continues the last turn.
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "user":
			img, text := splitTurn(m, tok)
			fmt.Fprintf(&b, "[INST] %s%s [/INST]", img, text)
		case "assistant":
			fmt.Fprintf(&b, " %s", turnText(m))
		case "system":
			fmt.Fprintf(&b, "[INST] <<SYS>>\n%s\n<</SYS>> [/INST]", turnText(m))
		}
	}
	return b.String()
}

func renderLlama3(msgs []vision.Message, tok *imageTokens) string {
	var b strings.Builder
	msgs, prefill := popPrefill(msgs)
	for _, m := range msgs {
		img, text := splitTurn(m, tok)
		fmt.Fprintf(&b, "<|start_header_id|>%s<|end_header_id|>\n\n%s%s<|eot_id|>", m.Role, img, strings.TrimSpace(text))
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	b.WriteString(prefill)
	return b.String()
}

func renderGemma(msgs []vision.Message, tok *imageTokens) string {
	var b strings.Builder
	msgs, prefill := popPrefill(msgs)
	for _, m := range msgs {
		switch m.Role {
		case "user":
			img, text := splitTurn(m, tok)
			fmt.Fprintf(&b, "<start_of_turn>user\n%s%s<end_of_turn>", img, text)
		case "assistant":
			fmt.Fprintf(&b, "<start_of_turn>model\n%s<end_of_turn>", turnText(m))
		case "system":
			// gemma has no system role; fold it into a system-labeled turn.
			fmt.Fprintf(&b, "<start_of_turn>system\n%s<end_of_turn>", turnText(m))
		}
	}
	b.WriteString("<start_of_turn>model\n")
	b.WriteString(prefill)
	return b.String()
}

func renderPhi3(msgs []vision.Message, tok *imageTokens) string {
	var b strings.Builder
	msgs, prefill := popPrefill(msgs)
	for _, m := range msgs {
		img, text := splitTurn(m, tok)
		fmt.Fprintf(&b, "<|%s|>\n%s%s<|end|>\n", m.Role, img, text)
	}
	b.WriteString("<|assistant|>\n")
	b.WriteString(prefill)
	return b.String()
}
