package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/azaj01/openedai-vision/internal/backend"
	"github.com/azaj01/openedai-vision/internal/registry"
	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// State is the lifecycle state of one instance.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
)

// Instance is one live model: a loaded adapter plus its admission queue.
type Instance struct {
	Name     string
	Entry    types.ModelEntry
	State    State
	LastUsed time.Time

	adapter backend.Adapter
	// genCh (size 1) serializes generation; queueCh bounds waiters.
	genCh   chan struct{}
	queueCh chan struct{}
}

// Dispatcher caches adapter instances by model name and mediates all access
// to them.
type Dispatcher struct {
	cfg        Config
	registry   *registry.Registry
	normalizer *vision.Normalizer
	publisher  EventPublisher

	mu        sync.RWMutex
	instances map[string]*Instance

	loads singleflight.Group

	loadsTotal atomic.Uint64
	loadErrors atomic.Uint64
	startTime  time.Time
}

func New(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:        cfg,
		registry:   cfg.Registry,
		normalizer: vision.NewNormalizer(cfg.Vision),
		publisher:  cfg.Publisher,
		instances:  make(map[string]*Instance),
		startTime:  time.Now(),
	}
}

// Models lists the registered model names in sorted order.
func (d *Dispatcher) Models() []string { return d.registry.Names() }

// Ready reports whether the dispatcher can serve requests. The registry is
// validated at startup, so an empty table is the only unready condition.
func (d *Dispatcher) Ready() bool { return d.registry.Len() > 0 }

// Close drains and unloads every instance. Called once at shutdown.
func (d *Dispatcher) Close() error {
	d.mu.RLock()
	names := make([]string, 0, len(d.instances))
	for name := range d.instances {
		names = append(names, name)
	}
	d.mu.RUnlock()
	for _, name := range names {
		if err := d.Unload(name); err != nil && !IsUnknownModel(err) {
			return err
		}
	}
	return nil
}
