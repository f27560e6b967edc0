package dispatch

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot
// on inst. Returns a release func to be deferred. FIFO order holds among
// admitted waiters because each holds a queue slot while waiting for the
// generation slot.
func (d *Dispatcher) beginGeneration(ctx context.Context, inst *Instance) (func(), error) {
	d.mu.RLock()
	state := inst.State
	d.mu.RUnlock()
	if state == StateDraining {
		return nil, ErrTooBusy(inst.Name)
	}

	timer := time.NewTimer(d.cfg.MaxWait)
	defer timer.Stop()

	select {
	case inst.queueCh <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTooBusy(inst.Name)
	}
	queueDepth.WithLabelValues(inst.Name).Inc()

	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
			queueDepth.WithLabelValues(inst.Name).Dec()
		}
	}()
	select {
	case inst.genCh <- struct{}{}:
		acquired = true
		d.touch(inst)
		return func() {
			<-inst.genCh
			<-inst.queueCh
			queueDepth.WithLabelValues(inst.Name).Dec()
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTooBusy(inst.Name)
	}
}
