package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/azaj01/openedai-vision/internal/registry"
	"github.com/azaj01/openedai-vision/internal/vision"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
	defaultMaxTokens     = 512
)

// Config carries all tunables for Dispatcher construction.
type Config struct {
	Registry *registry.Registry
	// DefaultModel is used when a request omits the model field.
	DefaultModel string
	// MaxQueueDepth bounds queued requests per instance.
	MaxQueueDepth int
	// MaxWait bounds how long one request waits for a queue or generation slot.
	MaxWait time.Duration
	// DrainTimeout bounds how long Unload waits for in-flight work.
	DrainTimeout time.Duration
	// GenTimeout bounds one generation end to end. Zero means no limit
	// beyond the request context.
	GenTimeout time.Duration
	// Normalizer options (image fetch limits).
	Vision vision.Options
	// Publisher receives lifecycle events. Nil drops them.
	Publisher EventPublisher
	Logger    zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}
