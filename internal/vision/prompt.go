// Package vision normalizes OpenAI-style chat messages into a backend-agnostic
// prompt: an ordered sequence of text and decoded image segments. Image
// segments keep their position relative to surrounding text within a message.
package vision

// Segment is a tagged variant: exactly one of Text or Image is set.
type Segment struct {
	Text  string
	Image *Image
}

// IsImage reports whether the segment carries an image.
func (s Segment) IsImage() bool { return s.Image != nil }

// Image is a fetched, decoded image ready for backend preprocessing.
type Image struct {
	// Data holds encoded image bytes: the original payload when no transform
	// was applied, PNG when the image was downscaled.
	Data   []byte
	MIME   string
	Width  int
	Height int
	// Detail is the requested resolution hint: low, high or auto.
	Detail string
}

// Message is one normalized conversation turn.
type Message struct {
	Role     string
	Segments []Segment
}

// Prompt is the normalized conversation. Message and segment order matches
// the incoming request exactly.
type Prompt struct {
	Messages []Message
}

// Images returns all image segments in conversation order.
func (p Prompt) Images() []*Image {
	var out []*Image
	for _, m := range p.Messages {
		for _, s := range m.Segments {
			if s.Image != nil {
				out = append(out, s.Image)
			}
		}
	}
	return out
}

// ImageCount returns the number of image segments.
func (p Prompt) ImageCount() int { return len(p.Images()) }

// Text concatenates all text segments, used for token estimates.
func (p Prompt) Text() string {
	var n int
	for _, m := range p.Messages {
		for _, s := range m.Segments {
			n += len(s.Text)
		}
	}
	buf := make([]byte, 0, n)
	for _, m := range p.Messages {
		for _, s := range m.Segments {
			buf = append(buf, s.Text...)
		}
	}
	return string(buf)
}
