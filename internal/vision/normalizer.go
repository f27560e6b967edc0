package vision

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/azaj01/openedai-vision/pkg/types"
)

const (
	defaultFetchTimeout  = 15 * time.Second
	defaultMaxImageBytes = 20 << 20
	defaultMaxImages     = 16
)

// Options tune the normalizer. Zero values select the package defaults.
type Options struct {
	// FetchTimeout bounds each remote image download.
	FetchTimeout time.Duration
	// MaxImageBytes caps the encoded size of a single image.
	MaxImageBytes int64
	// MaxImages caps the number of image segments per request.
	MaxImages int
}

// Normalizer converts incoming chat messages into a Prompt. It is stateless
// apart from its HTTP client and safe for concurrent use.
type Normalizer struct {
	client   *http.Client
	maxBytes int64
	maxImg   int
}

// NewNormalizer constructs a Normalizer with its own pooled HTTP client.
func NewNormalizer(opts Options) *Normalizer {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	maxBytes := opts.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	maxImg := opts.MaxImages
	if maxImg <= 0 {
		maxImg = defaultMaxImages
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Normalizer{
		client:   &http.Client{Transport: tr, Timeout: timeout},
		maxBytes: maxBytes,
		maxImg:   maxImg,
	}
}

// Normalize validates and converts msgs into a Prompt. Text passes through
// verbatim; every image source is fetched and decoded up front so adapters
// never see an unreachable URL. Order preserving and deterministic.
func (n *Normalizer) Normalize(ctx context.Context, msgs []types.ChatMessage) (Prompt, error) {
	var p Prompt
	images := 0
	for i, m := range msgs {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return Prompt{}, ErrInvalidRequest(fmt.Sprintf("messages[%d]: unsupported role %q", i, m.Role))
		}
		out := Message{Role: m.Role, Segments: make([]Segment, 0, len(m.Content))}
		for j, part := range m.Content {
			switch part.Type {
			case "text":
				out.Segments = append(out.Segments, Segment{Text: part.Text})
			case "image_url":
				if part.ImageURL == nil || part.ImageURL.URL == "" {
					return Prompt{}, ErrInvalidRequest(fmt.Sprintf("messages[%d].content[%d]: image_url part without url", i, j))
				}
				images++
				if images > n.maxImg {
					return Prompt{}, ErrInvalidRequest(fmt.Sprintf("too many images: limit is %d", n.maxImg))
				}
				detail, err := normalizeDetail(part.ImageURL.Detail)
				if err != nil {
					return Prompt{}, ErrInvalidRequest(fmt.Sprintf("messages[%d].content[%d]: %v", i, j, err))
				}
				img, err := n.resolveImage(ctx, part.ImageURL.URL, detail)
				if err != nil {
					return Prompt{}, err
				}
				out.Segments = append(out.Segments, Segment{Image: img})
			default:
				return Prompt{}, ErrInvalidRequest(fmt.Sprintf("messages[%d].content[%d]: unsupported content type %q", i, j, part.Type))
			}
		}
		p.Messages = append(p.Messages, out)
	}
	return p, nil
}

func normalizeDetail(d string) (string, error) {
	switch d {
	case "", "auto":
		return "auto", nil
	case "low", "high":
		return d, nil
	}
	return "", fmt.Errorf("invalid image detail %q", d)
}
