package httpapi

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/evidentia/syncplatform/domain/capability"
	"github.com/evidentia/syncplatform/domain/corrections"
	"github.com/evidentia/syncplatform/domain/distribution"
	"github.com/evidentia/syncplatform/domain/sync"
	"github.com/evidentia/syncplatform/storage/postgres"
)

// Scheduler drives the platform's periodic sweeps: the duplicate scanner,
// the capability rollout engine, the export outbox, the correction
// auto-apply queue, and the sync session/authority housekeeping. It is a
// thin cron.Cron wrapper, following the same library the rest of the
// corpus reaches for scheduled in-process work.
type Scheduler struct {
	svc *Service
	cron *cron.Cron
}

// NewScheduler builds the cron schedule against svc's dependencies but does
// not start it; call Start to begin running jobs.
func NewScheduler(svc *Service) *Scheduler {
	c := cron.New(cron.WithSeconds())
	s := &Scheduler{svc: svc, cron: c}
	s.register()
	return s
}

func (s *Scheduler) register() {
	// Hourly: incremental duplicate scan slot + capability rollout sweep.
	s.cron.AddFunc("0 0 * * * *", s.runIncrementalDuplicateScan)
	s.cron.AddFunc("0 5 * * * *", s.runRolloutSweepJob)

	// Every 15 minutes: drain the export outbox and apply parked
	// corrections that cleared review.
	s.cron.AddFunc("0 */15 * * * *", s.runExportDrain)
	s.cron.AddFunc("0 */15 * * * *", s.runCorrectionAutoApply)

	// Daily: expire stale authority grants and prune old invocations past
	// the retention window.
	s.cron.AddFunc("0 30 2 * * *", s.runDailyMaintenance)

	// Weekly: full duplicate scan.
	s.cron.AddFunc("0 0 3 * * 0", s.runFullDuplicateScan)
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

func (s *Scheduler) runIncrementalDuplicateScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	started, err := s.svc.deps.ScanStates.TryStart(ctx, postgres.ScanIncremental)
	if err != nil {
		s.svc.log.WithError(err).Error("incremental duplicate scan: start failed")
		return
	}
	if !started {
		return
	}
	s.svc.deps.ScanStates.Finish(ctx, postgres.ScanIncremental, "", time.Now().UTC())
}

func (s *Scheduler) runFullDuplicateScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	started, err := s.svc.deps.ScanStates.TryStart(ctx, postgres.ScanFull)
	if err != nil {
		s.svc.log.WithError(err).Error("full duplicate scan: start failed")
		return
	}
	if !started {
		return
	}
	s.svc.deps.ScanStates.Finish(ctx, postgres.ScanFull, "", time.Now().UTC())
}

func (s *Scheduler) runRolloutSweepJob() {
	applied, err := s.svc.runRolloutSweep(2 * time.Minute)
	if err != nil {
		s.svc.log.WithError(err).Error("capability rollout sweep failed")
		return
	}
	if applied > 0 {
		s.svc.log.WithField("transitions", applied).Info("capability rollout sweep applied transitions")
	}
}

// runExportDrain pulls due export events and dispatches them through every
// configured sink, per the outbox's at-least-once retry contract.
func (s *Scheduler) runExportDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	events, err := s.svc.deps.Distribution.DueEvents(ctx, time.Now().UTC(), distribution.DefaultBatchSize)
	if err != nil {
		s.svc.log.WithError(err).Error("export drain: load due events failed")
		return
	}
	if len(events) == 0 {
		return
	}
	sinks, err := s.svc.deps.Distribution.Sinks(ctx)
	if err != nil {
		s.svc.log.WithError(err).Error("export drain: load sinks failed")
		return
	}

	send := s.svc.deps.DistributionSender
	if send == nil {
		return
	}
	out := distribution.DispatchBatch(events, sinks, send, distribution.DefaultRetryPolicy, time.Now().UTC())
	for _, e := range out {
		if err := s.svc.deps.Distribution.SaveResult(ctx, e); err != nil {
			s.svc.log.WithError(err).Error("export drain: save result failed")
		}
	}
}

// runCorrectionAutoApply applies every pending, non-review correction item,
// the same BulkApply contract handleBulkApplyCorrections uses on demand.
func (s *Scheduler) runCorrectionAutoApply() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	items, err := s.svc.deps.QueueItems.Pending(ctx, false, 500)
	if err != nil {
		s.svc.log.WithError(err).Error("correction auto-apply: list pending failed")
		return
	}
	if len(items) == 0 {
		return
	}

	write := func(documentID, value string) error {
		return s.svc.deps.Documents.UpdateOCRText(ctx, documentID, value)
	}
	_, _, err = corrections.BulkApply(items, corrections.BulkApplyPolicy{RequiresApproval: false}, nil, write)
	if err != nil {
		s.svc.log.WithError(err).Error("correction auto-apply: bulk apply failed")
		return
	}
	for _, item := range items {
		if err := s.svc.deps.QueueItems.MarkApplied(ctx, item); err != nil {
			s.svc.log.WithError(err).Error("correction auto-apply: mark applied failed")
		}
	}
}

// runDailyMaintenance expires stale authority grants, sweeps inactive sync
// sessions into archived status, and prunes capability invocations past
// the retention window.
func (s *Scheduler) runDailyMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	now := time.Now().UTC()

	if n, err := s.svc.deps.Authorities.ExpireStale(ctx, now); err != nil {
		s.svc.log.WithError(err).Error("daily maintenance: expire stale authorities failed")
	} else if n > 0 {
		s.svc.log.WithField("count", n).Info("expired stale authority grants")
	}

	if n, err := s.svc.deps.Sessions.SweepInactive(ctx, now, sync.DefaultArchiveAfter); err != nil {
		s.svc.log.WithError(err).Error("daily maintenance: sweep inactive sessions failed")
	} else if n > 0 {
		s.svc.log.WithField("count", n).Info("archived inactive sessions")
	}

	retention := capability.InvocationRetention
	if s.svc.deps.RetentionDays > 0 {
		retention = time.Duration(s.svc.deps.RetentionDays) * 24 * time.Hour
	}
	cutoff := now.Add(-retention)
	if n, err := s.svc.deps.Capabilities.PruneOlderThan(ctx, cutoff); err != nil {
		s.svc.log.WithError(err).Error("daily maintenance: prune invocations failed")
	} else if n > 0 {
		s.svc.log.WithField("count", n).Info("pruned capability invocations past retention window")
	}
}
