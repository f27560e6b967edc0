package vision

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/azaj01/openedai-vision/pkg/types"
)

// 8x8 black PNG, the placeholder pixel used when testing image plumbing.
const blackPixelURI = "data:image/png;charset=utf-8;base64,iVBORw0KGgoAAAANSUhEUgAAAAgAAAAICAIAAABLbSncAAAADElEQVQI12NgGB4AAADIAAF8Y2l9AAAAAElFTkSuQmCC"

func textPart(s string) types.ContentPart {
	return types.ContentPart{Type: "text", Text: s}
}

func imagePart(url string) types.ContentPart {
	return types.ContentPart{Type: "image_url", ImageURL: &types.ImageURL{URL: url}}
}

func TestNormalizePreservesSegmentOrder(t *testing.T) {
	n := NewNormalizer(Options{})
	msgs := []types.ChatMessage{{
		Role: "user",
		Content: types.MessageContent{
			textPart("text A"),
			imagePart(blackPixelURI),
			textPart("text C"),
		},
	}}
	p, err := n.Normalize(context.Background(), msgs)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(p.Messages) != 1 {
		t.Fatalf("messages=%d", len(p.Messages))
	}
	segs := p.Messages[0].Segments
	if len(segs) != 3 {
		t.Fatalf("segments=%d", len(segs))
	}
	if segs[0].Text != "text A" || !segs[1].IsImage() || segs[2].Text != "text C" {
		t.Fatalf("order not preserved: %+v", segs)
	}
	if segs[1].Image.Width != 8 || segs[1].Image.Height != 8 {
		t.Fatalf("decoded dimensions: %dx%d", segs[1].Image.Width, segs[1].Image.Height)
	}
}

func TestNormalizeStringContentRepack(t *testing.T) {
	n := NewNormalizer(Options{})
	var msg types.ChatMessage
	if err := msg.Content.UnmarshalJSON([]byte(`"hello"`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg.Role = "user"
	p, err := n.Normalize(context.Background(), []types.ChatMessage{msg})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := p.Messages[0].Segments[0].Text; got != "hello" {
		t.Fatalf("text=%q", got)
	}
}

func TestNormalizeFetchesHTTPImages(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 6))); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	n := NewNormalizer(Options{})
	p, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role:    "user",
		Content: types.MessageContent{imagePart(srv.URL + "/cat.png")},
	}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	img := p.Images()[0]
	if img.Width != 4 || img.Height != 6 || img.MIME != "image/png" {
		t.Fatalf("unexpected image: %+v", img)
	}
}

func TestNormalizeLowDetailDownscales(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1024, 256))); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	n := NewNormalizer(Options{})
	p, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role: "user",
		Content: types.MessageContent{{
			Type:     "image_url",
			ImageURL: &types.ImageURL{URL: srv.URL, Detail: "low"},
		}},
	}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	img := p.Images()[0]
	if img.Width != 512 || img.Height != 128 {
		t.Fatalf("expected 512x128 after downscale, got %dx%d", img.Width, img.Height)
	}
	if img.MIME != "image/png" {
		t.Fatalf("mime=%q", img.MIME)
	}
}

func TestNormalizeBadBase64(t *testing.T) {
	n := NewNormalizer(Options{})
	_, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role:    "user",
		Content: types.MessageContent{imagePart("data:image/png;base64,%%%%")},
	}})
	if err == nil || !IsInvalidImage(err) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
}

func TestNormalizeUndecodableImage(t *testing.T) {
	n := NewNormalizer(Options{})
	_, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role:    "user",
		Content: types.MessageContent{imagePart("data:image/png;base64,aGVsbG8=")}, // "hello"
	}})
	if err == nil || !IsInvalidImage(err) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
}

func TestNormalizeUnreachableURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	n := NewNormalizer(Options{})
	_, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role:    "user",
		Content: types.MessageContent{imagePart(srv.URL + "/missing.png")},
	}})
	if err == nil || !IsInvalidImage(err) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
}

func TestNormalizeOversizedImageRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	n := NewNormalizer(Options{MaxImageBytes: 16})
	_, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role:    "user",
		Content: types.MessageContent{imagePart(srv.URL)},
	}})
	if err == nil || !IsInvalidImage(err) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
	if !strings.Contains(err.Error(), "byte limit") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestNormalizeRejectsUnknownRole(t *testing.T) {
	n := NewNormalizer(Options{})
	_, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role:    "tool",
		Content: types.MessageContent{textPart("x")},
	}})
	if err == nil || !IsInvalidRequest(err) {
		t.Fatalf("expected invalid request error, got %v", err)
	}
}

func TestNormalizeRejectsBadDetail(t *testing.T) {
	n := NewNormalizer(Options{})
	_, err := n.Normalize(context.Background(), []types.ChatMessage{{
		Role: "user",
		Content: types.MessageContent{{
			Type:     "image_url",
			ImageURL: &types.ImageURL{URL: blackPixelURI, Detail: "maximum"},
		}},
	}})
	if err == nil || !IsInvalidRequest(err) {
		t.Fatalf("expected invalid request error, got %v", err)
	}
}
