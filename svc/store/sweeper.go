package store

import (
	"context"
	"pastelite/metrics"
	"pastelite/svc/util"
	"time"

	"github.com/pkg/errors"
)

var ErrSweeperRunning = errors.New("sweeper already running")

// StartSweeper launches a goroutine that calls st.Sweep every interval until
// ctx is done. Only one sweeper may run per store.
func StartSweeper(ctx context.Context, st *Store, interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("invalid sweep interval %s", interval)
	}
	if !st.sweeping.CompareAndSwap(false, true) {
		return ErrSweeperRunning
	}
	go runSweeper(ctx, st, interval)
	return nil
}

func runSweeper(ctx context.Context, st *Store, interval time.Duration) {
	defer st.sweeping.Store(false)
	sweepRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, sweepRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", sweepRequestID).
		Dur("interval", interval).
		Msg("sweep worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", sweepRequestID).
				Msg("sweep worker shutting down")
			return
		case <-ticker.C:
			start := time.Now()
			removed := st.Sweep()
			live := st.Len()
			metrics.SweepCycles.Inc()
			metrics.PasteSwept.Add(float64(removed))
			metrics.LivePastes.Set(float64(live))
			if removed > 0 {
				util.Info().
					Int("removed", removed).
					Int("live", live).
					Dur("took", time.Since(start)).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep completed")
			}
		}
	}
}
