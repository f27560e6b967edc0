package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"

	"golang.org/x/image/draw"

	// Register decoders for the formats the API accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Resolution caps per detail level, applied to the long side. Low matches the
// 512px tier of the OpenAI vision API; auto/high only guard against
// pathologically large inputs.
const (
	lowDetailMaxSide  = 512
	highDetailMaxSide = 2048
)

// resolveImage fetches url (http(s) or data URI), decodes it and applies the
// detail-based downscale. All failures come back as InvalidImageErrors.
func (n *Normalizer) resolveImage(ctx context.Context, url, detail string) (*Image, error) {
	var (
		raw  []byte
		mime string
		err  error
	)
	switch {
	case strings.HasPrefix(url, "data:"):
		raw, mime, err = decodeDataURI(url)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		raw, mime, err = n.fetch(ctx, url)
	default:
		err = fmt.Errorf("unsupported image source scheme")
	}
	if err != nil {
		return nil, ErrInvalidImage(err.Error())
	}
	if int64(len(raw)) > n.maxBytes {
		return nil, ErrInvalidImage(fmt.Sprintf("image exceeds %d byte limit", n.maxBytes))
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrInvalidImage("undecodable image data: " + err.Error())
	}
	if mime == "" {
		mime = "image/" + format
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	maxSide := highDetailMaxSide
	if detail == "low" {
		maxSide = lowDetailMaxSide
	}
	if w <= maxSide && h <= maxSide {
		return &Image{Data: raw, MIME: mime, Width: w, Height: h, Detail: detail}, nil
	}

	// Downscale preserving aspect ratio; re-encode as PNG.
	scale := float64(maxSide) / float64(max(w, h))
	nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, ErrInvalidImage("re-encode: " + err.Error())
	}
	return &Image{Data: buf.Bytes(), MIME: "image/png", Width: nw, Height: nh, Detail: detail}, nil
}

// fetch downloads a remote image, enforcing the byte cap while reading.
func (n *Normalizer) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(raw)) > n.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d byte limit", n.maxBytes)
	}
	return raw, resp.Header.Get("Content-Type"), nil
}

// decodeDataURI handles data URIs with or without a mime type, e.g.
// data:image/png;base64,... and data:;base64,... Both appear in the wild.
func decodeDataURI(uri string) ([]byte, string, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, "", fmt.Errorf("malformed data URI")
	}
	meta := uri[len("data:"):comma]
	payload := uri[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("data URI must be base64 encoded")
	}
	mime := ""
	if semi := strings.IndexByte(meta, ';'); semi > 0 {
		mime = meta[:semi]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 image payload")
	}
	return data, mime, nil
}
