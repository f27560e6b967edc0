package dispatch

import "time"

// Unload drains one instance and releases its adapter.
// New requests are rejected as soon as the state flips to draining; in-flight
// and queued work gets up to DrainTimeout to finish before the adapter is
// closed regardless.
func (d *Dispatcher) Unload(name string) error {
	d.mu.Lock()
	inst := d.instances[name]
	if inst == nil {
		d.mu.Unlock()
		if _, ok := d.registry.Lookup(name); !ok {
			return ErrUnknownModel(name)
		}
		// Registered but not loaded: nothing to do.
		return nil
	}
	inst.State = StateDraining
	d.mu.Unlock()
	d.publisher.Publish(Event{Name: "unload_start", Model: name})

	deadline := time.Now().Add(d.cfg.DrainTimeout)
	for {
		if len(inst.genCh) == 0 && len(inst.queueCh) == 0 {
			break
		}
		if time.Now().After(deadline) {
			d.publisher.Publish(Event{Name: "unload_timeout", Model: name, Fields: map[string]any{
				"inflight": len(inst.genCh), "queued": len(inst.queueCh),
			}})
			d.cfg.Logger.Warn().Str("model", name).Msg("drain timeout, closing adapter with work pending")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	d.mu.Lock()
	delete(d.instances, name)
	d.mu.Unlock()

	// adapter is nil when unloading races a still-loading instance.
	if inst.adapter != nil {
		if err := inst.adapter.Close(); err != nil {
			d.cfg.Logger.Error().Err(err).Str("model", name).Msg("adapter close failed")
		}
	}
	d.publisher.Publish(Event{Name: "unload_done", Model: name})
	d.cfg.Logger.Info().Str("model", name).Msg("model unloaded")
	return nil
}
