package reconcile

import (
	"context"
	"time"

	"github.com/leadpilot-ai/platform/pkg/common/logger"
)

// Detector periodically re-runs the stale scan and also wakes up when a
// batch change event arrives on the notify channel, so a fresh callback
// updates the classification without waiting for the next tick.
type Detector struct {
	service  *Service
	interval time.Duration
	notify   <-chan struct{}
}

func NewDetector(service *Service, interval time.Duration, notify <-chan struct{}) *Detector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Detector{service: service, interval: interval, notify: notify}
}

// Run blocks until the context is cancelled.
func (d *Detector) Run(ctx context.Context) {
	logger.Log.WithField("interval", d.interval.String()).Info("stale-batch detector started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("stale-batch detector shutting down")
			return
		case <-ticker.C:
			d.scan(ctx)
		case <-d.notify:
			d.scan(ctx)
		}
	}
}

func (d *Detector) scan(ctx context.Context) {
	stale, err := d.service.FindStale(ctx)
	if err != nil {
		logger.Log.WithError(err).Error("stale scan failed")
		return
	}
	if len(stale) == 0 {
		return
	}

	for _, sb := range stale {
		logger.Log.WithFields(map[string]interface{}{
			"batch_id":        sb.Batch.ID,
			"label":           sb.Batch.Label,
			"total_urls":      sb.Batch.TotalURLs,
			"successful":      sb.Successful,
			"failed":          sb.Failed,
			"elapsed_minutes": sb.ElapsedMinutes,
		}).Warn("batch looks complete but was never marked complete")
	}
}
