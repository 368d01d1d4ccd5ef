// Package resync retries central propagation for patients that were created
// locally while the broker or the central registry was unavailable.
package resync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/novacare/clinic-intake/pkg/broker"
	"github.com/novacare/clinic-intake/pkg/common/events"
	"github.com/novacare/clinic-intake/pkg/common/httpclient"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/naming"
	"github.com/novacare/clinic-intake/pkg/observability/metrics"
	"github.com/novacare/clinic-intake/pkg/patient"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var ErrRunInProgress = errors.New("resync already in progress")

type Broker interface {
	SyncToCentral(ctx context.Context, record map[string]interface{}) broker.SyncResult
}

type Options struct {
	BatchSize int
	Attempts  int
	BaseDelay time.Duration
	// Grace leaves freshly created patients alone so a check-in whose own
	// sync call is still in flight is not pushed a second time.
	Grace time.Duration
}

type Summary struct {
	Status             string    `json:"status"`
	StartedAt          time.Time `json:"startedAt"`
	FinishedAt         time.Time `json:"finishedAt"`
	Attempted          int       `json:"attempted"`
	Synced             int       `json:"synced"`
	ConfirmedWithoutID int       `json:"confirmedWithoutId"`
	Failed             int       `json:"failed"`
}

type Worker struct {
	repo      *patient.Repository
	broker    Broker
	adapter   *naming.Adapter
	publisher events.Publisher
	opts      Options

	running atomic.Bool
	cron    *cron.Cron
}

func NewWorker(repo *patient.Repository, b Broker, adapter *naming.Adapter, publisher events.Publisher, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	return &Worker{repo: repo, broker: b, adapter: adapter, publisher: publisher, opts: opts}
}

// Start schedules RunOnce on schedule (standard cron syntax or descriptors
// such as "@every 1m").
func (w *Worker) Start(schedule string) error {
	c := cron.New(cron.WithLogger(cron.PrintfLogger(logger.Log)))
	_, err := c.AddFunc(schedule, func() {
		if _, err := w.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrRunInProgress) {
			logger.Log.WithError(err).Error("Scheduled resync failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	w.cron = c
	c.Start()
	logger.Log.WithField("schedule", schedule).Info("Resync worker started")
	return nil
}

// Stop halts the schedule and waits for a running job, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) {
	if w.cron == nil {
		return
	}
	select {
	case <-w.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce pushes one batch of never-synced patients to the central registry.
// A failure for one patient does not stop the batch.
func (w *Worker) RunOnce(ctx context.Context) (*Summary, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer w.running.Store(false)

	summary := &Summary{Status: "completed", StartedAt: time.Now().UTC()}
	var cutoff time.Time
	if w.opts.Grace > 0 {
		cutoff = summary.StartedAt.Add(-w.opts.Grace)
	}
	pending, err := w.repo.ListUnsynced(ctx, w.opts.BatchSize, cutoff)
	if err != nil {
		return nil, fmt.Errorf("loading unsynced patients: %w", err)
	}

	for i := range pending {
		if ctx.Err() != nil {
			summary.Status = "interrupted"
			break
		}
		summary.Attempted++
		w.syncOne(ctx, &pending[i], summary)
	}

	summary.FinishedAt = time.Now().UTC()
	metrics.IncResyncRuns()
	logger.WithFields(logrus.Fields{
		"attempted":            summary.Attempted,
		"synced":               summary.Synced,
		"confirmed_without_id": summary.ConfirmedWithoutID,
		"failed":               summary.Failed,
	}).Info("Resync run finished")
	return summary, nil
}

func (w *Worker) syncOne(ctx context.Context, p *models.Patient, summary *Summary) {
	log := logger.WithFields(logrus.Fields{"patient_id": p.ID, "cin": p.CIN})
	record := w.adapter.ToExchange(*p)

	var res broker.SyncResult
	err := httpclient.Retry(ctx, w.opts.Attempts, w.opts.BaseDelay, func() error {
		res = w.broker.SyncToCentral(ctx, record)
		if res.Synced {
			return nil
		}
		failure := errors.New(res.Reason)
		// The broker rejected the record itself; retrying will not help.
		if res.StatusCode >= 400 && res.StatusCode < 500 {
			return httpclient.Permanent(failure)
		}
		return failure
	})
	if err != nil {
		summary.Failed++
		metrics.IncSyncFailed()
		log.WithError(err).Warn("Resync failed")
		w.publisher.Publish(ctx, models.EventPatientSyncFailed, p.ID, map[string]interface{}{
			"patientId": p.ID,
			"reason":    err.Error(),
			"origin":    "resync",
		})
		return
	}

	if res.CentralID == "" {
		if _, err := w.repo.MarkSynced(ctx, p.ID); err != nil {
			summary.Failed++
			log.WithError(err).Error("Failed to mark patient synced")
			return
		}
		summary.ConfirmedWithoutID++
		metrics.IncSyncSucceeded()
		log.Info("Broker confirmed patient without central id")
		return
	}

	if _, err := w.repo.AttachCentralID(ctx, p.ID, res.CentralID); err != nil {
		summary.Failed++
		log.WithError(err).Error("Failed to attach central id")
		return
	}
	summary.Synced++
	metrics.IncSyncSucceeded()
	log.WithField("central_id", res.CentralID).Info("Patient resynced to central registry")
	w.publisher.Publish(ctx, models.EventPatientSynced, p.ID, map[string]interface{}{
		"patientId": p.ID,
		"centralId": res.CentralID,
		"origin":    "resync",
	})
}
