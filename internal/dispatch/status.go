package dispatch

import (
	"sort"
	"time"

	"github.com/azaj01/openedai-vision/pkg/types"
)

// Status builds the detailed status report for GET /status.
func (d *Dispatcher) Status() types.StatusResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	resp := types.StatusResponse{
		LoadsTotal:     d.loadsTotal.Load(),
		LoadErrors:     d.loadErrors.Load(),
		UptimeSeconds:  int64(time.Since(d.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(d.instances))
	for _, inst := range d.instances {
		resp.Instances = append(resp.Instances, types.InstanceStatus{
			Model:         inst.Name,
			Backend:       string(inst.Entry.Backend),
			State:         string(inst.State),
			LastUsed:      inst.LastUsed.Unix(),
			QueueLen:      len(inst.queueCh),
			Inflight:      len(inst.genCh),
			MaxQueueDepth: cap(inst.queueCh),
		})
	}
	sort.Slice(resp.Instances, func(i, j int) bool {
		return resp.Instances[i].Model < resp.Instances[j].Model
	})
	return resp
}
