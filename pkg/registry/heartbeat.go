package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// Heartbeater writes this worker's liveness file every interval. The file
// has a single writer, so the write is unconditional.
type Heartbeater struct {
	store    objectstore.Store
	workerID string
	endpoint string
	clock    clock.Clock
	logger   zerolog.Logger

	Interval time.Duration
}

// NewHeartbeater creates a heartbeater for the given worker.
func NewHeartbeater(store objectstore.Store, workerID, endpoint string, clk clock.Clock) *Heartbeater {
	if clk == nil {
		clk = clock.New()
	}
	return &Heartbeater{
		store:    store,
		workerID: workerID,
		endpoint: endpoint,
		clock:    clk,
		logger:   log.WithComponent("heartbeat"),
		Interval: time.Minute,
	}
}

// Run beats immediately, then on every interval until the context ends.
// Beat failures are logged and retried next interval; a missed beat only
// matters if it persists past the reclaimer's stale threshold.
func (h *Heartbeater) Run(ctx context.Context) {
	if err := h.Beat(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("initial heartbeat failed")
	}

	ticker := h.clock.Ticker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.Beat(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Beat writes the heartbeat file once.
func (h *Heartbeater) Beat(ctx context.Context) error {
	hb := types.Heartbeat{
		LastHeartbeat:  h.clock.Now().UTC(),
		PublicEndpoint: h.endpoint,
	}
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to encode heartbeat: %w", err)
	}
	if err := h.store.Put(ctx, objectstore.HeartbeatKey(h.workerID), data, nil); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	metrics.HeartbeatsWritten.Inc()
	return nil
}

// listHeartbeats builds workerID -> lastHeartbeat from the heartbeat
// objects. Unreadable files are skipped; their owners then look dead by
// assignment age, which errs on the side of reclaiming.
func listHeartbeats(ctx context.Context, store objectstore.Store, logger zerolog.Logger) (map[string]time.Time, error) {
	infos, err := store.List(ctx, objectstore.PrefixHeartbeats)
	if err != nil {
		return nil, err
	}
	beats := make(map[string]time.Time, len(infos))
	for _, info := range infos {
		obj, err := store.Get(ctx, info.Key)
		if err != nil {
			logger.Warn().Err(err).Str("key", info.Key).Msg("failed to read heartbeat")
			continue
		}
		var hb types.Heartbeat
		if err := json.Unmarshal(obj.Data, &hb); err != nil {
			logger.Warn().Err(err).Str("key", info.Key).Msg("skipping corrupt heartbeat")
			continue
		}
		workerID := strings.TrimSuffix(path.Base(info.Key), ".json")
		beats[workerID] = hb.LastHeartbeat
	}
	return beats, nil
}
