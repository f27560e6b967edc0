package dispatch

import (
	"context"
	"time"

	"github.com/azaj01/openedai-vision/internal/backend"
)

// resolve returns the ready instance for name, loading it first if needed.
// Concurrent first requests for the same model share one load via
// singleflight, so each model loads at most once however many callers race.
func (d *Dispatcher) resolve(ctx context.Context, name string) (*Instance, error) {
	if _, ok := d.registry.Lookup(name); !ok {
		return nil, ErrUnknownModel(name)
	}

	d.mu.RLock()
	inst := d.instances[name]
	var state State
	if inst != nil {
		state = inst.State
	}
	d.mu.RUnlock()
	if inst != nil {
		switch state {
		case StateReady:
			d.touch(inst)
			return inst, nil
		case StateDraining:
			return nil, ErrTooBusy(name)
		}
	}

	ch := d.loads.DoChan(name, func() (any, error) {
		return d.load(name)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		inst := res.Val.(*Instance)
		d.touch(inst)
		return inst, nil
	case <-ctx.Done():
		// The load keeps running for the callers still waiting on it.
		return nil, ctx.Err()
	}
}

// load opens the adapter for name and commits the instance. Runs inside the
// singleflight group, so at most one load per name is in flight.
func (d *Dispatcher) load(name string) (*Instance, error) {
	entry, ok := d.registry.Lookup(name)
	if !ok {
		return nil, ErrUnknownModel(name)
	}

	// Another singleflight round may have committed the instance already.
	d.mu.Lock()
	if inst := d.instances[name]; inst != nil && inst.State == StateReady {
		d.mu.Unlock()
		return inst, nil
	}
	inst := &Instance{
		Name:     name,
		Entry:    entry,
		State:    StateLoading,
		LastUsed: time.Now(),
		genCh:    make(chan struct{}, 1),
		queueCh:  make(chan struct{}, d.cfg.MaxQueueDepth),
	}
	d.instances[name] = inst
	d.mu.Unlock()

	d.publisher.Publish(Event{Name: "load_start", Model: name})
	started := time.Now()
	adapter, err := backend.Open(entry)
	if err != nil {
		d.loadErrors.Add(1)
		loadErrorsTotal.WithLabelValues(name).Inc()
		d.publisher.Publish(Event{Name: "load_error", Model: name, Fields: map[string]any{"error": err.Error()}})
		d.cfg.Logger.Error().Err(err).Str("model", name).Msg("model load failed")
		// Reset the slot so a later request can retry the load.
		d.mu.Lock()
		delete(d.instances, name)
		d.mu.Unlock()
		return nil, err
	}

	d.mu.Lock()
	if d.instances[name] != inst {
		// Unload raced the load and removed the slot; the adapter has no
		// owner left, so close it here instead of committing it.
		d.mu.Unlock()
		if cerr := adapter.Close(); cerr != nil {
			d.cfg.Logger.Error().Err(cerr).Str("model", name).Msg("adapter close failed")
		}
		d.publisher.Publish(Event{Name: "load_aborted", Model: name})
		return nil, ErrTooBusy(name)
	}
	inst.adapter = adapter
	inst.State = StateReady
	inst.LastUsed = time.Now()
	d.mu.Unlock()

	d.loadsTotal.Add(1)
	loadsTotal.WithLabelValues(name).Inc()
	loadSeconds.WithLabelValues(name).Observe(time.Since(started).Seconds())
	d.publisher.Publish(Event{Name: "load_done", Model: name, Fields: map[string]any{"elapsed_ms": time.Since(started).Milliseconds()}})
	d.cfg.Logger.Info().Str("model", name).Dur("elapsed", time.Since(started)).Msg("model loaded")

	return inst, nil
}

func (d *Dispatcher) touch(inst *Instance) {
	d.mu.Lock()
	inst.LastUsed = time.Now()
	d.mu.Unlock()
}
