package lim

import (
	"pastelite/metrics"
	"pastelite/svc/util"
	"sync"
	"time"
)

const (
	anomalySlots       = 5
	anomalySlotWidth   = time.Minute
	anomalyMinRequests = 10
	anomalyErrorPct    = 5.0
)

// AnomalyDetector keeps a ring of per-minute request and error counts and
// calls onAnomaly when the error rate over the ring crosses anomalyErrorPct.
type AnomalyDetector struct {
	mu        sync.Mutex
	slots     [anomalySlots]slot
	cur       int
	onAnomaly func()
	done      chan struct{}
	stopOnce  sync.Once
}
type slot struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}
func (d *AnomalyDetector) Start() {
	go func() {
		ticker := time.NewTicker(anomalySlotWidth)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Rotate()
			case <-d.done:
				return
			}
		}
	}()
}
func (d *AnomalyDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	d.slots[d.cur].requests++
	d.mu.Unlock()
}
func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	d.slots[d.cur].errors++
	d.mu.Unlock()
}

// ErrorRate returns the error percentage and request count over the ring.
func (d *AnomalyDetector) ErrorRate() (float64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rateLocked()
}
func (d *AnomalyDetector) rateLocked() (float64, int64) {
	var reqs, errs int64
	for _, s := range d.slots {
		reqs += s.requests
		errs += s.errors
	}
	if reqs == 0 {
		return 0, 0
	}
	return float64(errs) / float64(reqs) * 100.0, reqs
}

// Rotate evaluates the ring, then starts a fresh slot, dropping the oldest.
func (d *AnomalyDetector) Rotate() {
	d.mu.Lock()
	pct, reqs := d.rateLocked()
	d.cur = (d.cur + 1) % anomalySlots
	d.slots[d.cur] = slot{}
	d.mu.Unlock()

	metrics.RecentErrorRatePercent.Set(pct)
	if reqs > anomalyMinRequests && pct > anomalyErrorPct {
		util.Warn().
			Float64("error_rate", pct).
			Int64("requests", reqs).
			Msg("error rate above threshold, tightening rate limits")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
}
