package controller

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/nightcloud/nightfleet/pkg/ledger"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/registry"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// WorkerStatus summarizes one assignment with its liveness.
type WorkerStatus struct {
	WorkerID      string     `json:"workerId"`
	Addresses     int        `json:"addresses"`
	StartAddress  int        `json:"startAddress"`
	EndAddress    int        `json:"endAddress"`
	AssignedAt    time.Time  `json:"assignedAt"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
}

// FleetStatus is the operator's fleet-wide snapshot.
type FleetStatus struct {
	TotalAddresses       int            `json:"totalAddresses"`
	AssignedAddresses    int            `json:"assignedAddresses"`
	NextAvailable        int            `json:"nextAvailable"`
	AddressesPerInstance int            `json:"addressesPerInstance"`
	Workers              []WorkerStatus `json:"workers"`
	Stats                *types.Stats   `json:"stats,omitempty"`
}

// Status assembles the fleet snapshot from the registry, the heartbeat
// files and the shared stats object. A missing registry yields
// registry.ErrRegistryMissing; missing stats are simply omitted.
func (c *Controller) Status(ctx context.Context) (*FleetStatus, error) {
	reg, _, err := c.reg.Get(ctx)
	if err != nil {
		return nil, err
	}

	beats := c.listHeartbeats(ctx)

	status := &FleetStatus{
		TotalAddresses:       len(reg.Addresses),
		NextAvailable:        reg.NextAvailable,
		AddressesPerInstance: reg.AddressesPerInstance,
	}
	for id, as := range reg.Assignments {
		ws := WorkerStatus{
			WorkerID:     id,
			Addresses:    len(as.Addresses),
			StartAddress: as.StartAddress,
			EndAddress:   as.EndAddress,
			AssignedAt:   as.AssignedAt,
		}
		if beat, ok := beats[id]; ok {
			b := beat
			ws.LastHeartbeat = &b
		} else {
			ws.LastHeartbeat = as.LastHeartbeat
		}
		status.AssignedAddresses += len(as.Addresses)
		status.Workers = append(status.Workers, ws)
	}
	sort.Slice(status.Workers, func(i, j int) bool {
		return status.Workers[i].StartAddress < status.Workers[j].StartAddress
	})

	stats, err := ledger.NewStatsLedger(c.store, c.clock).Load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("stats unavailable for status report")
	} else {
		status.Stats = stats
	}
	return status, nil
}

// IsSeeded reports whether registry.json exists yet.
func (c *Controller) IsSeeded(ctx context.Context) (bool, error) {
	_, _, err := c.reg.Get(ctx)
	if errors.Is(err, registry.ErrRegistryMissing) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) listHeartbeats(ctx context.Context) map[string]time.Time {
	beats := make(map[string]time.Time)
	infos, err := c.store.List(ctx, objectstore.PrefixHeartbeats)
	if err != nil {
		c.logger.Warn().Err(err).Msg("heartbeats unavailable for status report")
		return beats
	}
	for _, info := range infos {
		obj, err := c.store.Get(ctx, info.Key)
		if err != nil {
			continue
		}
		var hb types.Heartbeat
		if err := json.Unmarshal(obj.Data, &hb); err != nil {
			continue
		}
		workerID := strings.TrimSuffix(path.Base(info.Key), ".json")
		beats[workerID] = hb.LastHeartbeat
	}
	return beats
}
