// Package pipeline composes authentication, fetching, cursor filtering,
// enrichment, and loading into one sync run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/centrepoint"
	"github.com/sensorcloud/centrepoint-sync/pkg/config"
	"github.com/sensorcloud/centrepoint-sync/pkg/cursor"
	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
	"github.com/sensorcloud/centrepoint-sync/pkg/loader"
	"github.com/sensorcloud/centrepoint-sync/pkg/metrics"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// StateStore persists cursor values between runs.
type StateStore interface {
	Load(resource string) (string, error)
	Save(resource, cursor string) error
	// Clear removes the persisted cursor so the next incremental run
	// starts from the epoch sentinel.
	Clear(resource string) error
}

// RunResult reports the outcome of one sync run. On failure, FinalCursor is
// the highest value advanced before the failure; it is reported but never
// persisted.
type RunResult struct {
	Mode           cursor.Mode
	RecordsEmitted int
	RecordsSkipped int
	FinalCursor    string
	Duration       time.Duration
}

// SyncRun owns one sync invocation against one study/subject window. Every
// collaborator is constructed and passed in by the caller; the run holds no
// process-wide state.
type SyncRun struct {
	cfg      *config.SyncConfig
	fetcher  *centrepoint.Client
	enricher *Enricher
	load     loader.Loader
	store    StateStore
	logger   *zap.Logger
}

// NewSyncRun wires a run from its collaborators.
func NewSyncRun(cfg *config.SyncConfig, fetcher *centrepoint.Client, load loader.Loader, store StateStore, logger *zap.Logger) *SyncRun {
	return &SyncRun{
		cfg:      cfg,
		fetcher:  fetcher,
		enricher: NewEnricher(cfg.Source.StudyID),
		load:     load,
		store:    store,
		logger:   logger.With(zap.String("component", "sync_run")),
	}
}

// resourceKey identifies this study/subject stream in the state store.
func (s *SyncRun) resourceKey() string {
	return fmt.Sprintf("daily_statistics/%d/%d", s.cfg.Source.StudyID, s.cfg.Source.SubjectID)
}

// Run executes the sync. The persisted cursor is written only after the
// loader commits; any failure or cancellation leaves it untouched.
func (s *SyncRun) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	result, err := s.run(ctx)
	result.Duration = time.Since(start)
	metrics.RunDuration.Observe(result.Duration.Seconds())

	if err != nil {
		metrics.RunsCompleted.WithLabelValues("failed").Inc()
		s.logger.Error("sync run failed",
			zap.String("mode", string(result.Mode)),
			zap.Int("records_emitted", result.RecordsEmitted),
			zap.String("highest_cursor", result.FinalCursor),
			zap.Error(err))
		return result, err
	}

	metrics.RunsCompleted.WithLabelValues("completed").Inc()
	s.logger.Info("sync run completed",
		zap.String("mode", string(result.Mode)),
		zap.Int("records_emitted", result.RecordsEmitted),
		zap.Int("records_skipped", result.RecordsSkipped),
		zap.String("final_cursor", result.FinalCursor),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *SyncRun) run(ctx context.Context) (*RunResult, error) {
	// The fetch goroutine blocks on channel sends; cancelling on every exit
	// path releases it when the run fails before draining all pages.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mode := cursor.Incremental
	if s.cfg.Source.FullReload {
		mode = cursor.FullReload
	}
	result := &RunResult{Mode: mode}

	// A full reload discards persisted state up front. Even if this run
	// fails, incremental runs must not resume from a cursor the operator
	// asked to throw away.
	if mode == cursor.FullReload {
		if err := s.store.Clear(s.resourceKey()); err != nil {
			return result, err
		}
	}

	persisted, err := s.store.Load(s.resourceKey())
	if err != nil {
		return result, err
	}
	policy := cursor.NewPolicy(mode, persisted)
	result.FinalCursor = policy.StartValue()

	s.logger.Info("starting sync run",
		zap.String("mode", string(mode)),
		zap.Int("study_id", s.cfg.Source.StudyID),
		zap.Int("subject_id", s.cfg.Source.SubjectID),
		zap.String("start_cursor", policy.StartValue()))

	if err := s.load.Open(ctx); err != nil {
		return result, err
	}
	defer func() { _ = s.load.Close(ctx) }()

	records, errc := s.fetcher.FetchDailyStatistics(ctx, s.cfg.Window(), policy.ServerFilter())

	batch := make([]*models.Record, 0, s.cfg.Destination.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.load.Write(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	fail := func(err error) (*RunResult, error) {
		result.FinalCursor = policy.Final()
		_ = s.load.Abort(ctx)
		return result, err
	}

	for r := range records {
		ok, err := policy.Accept(r)
		if err != nil {
			return fail(err)
		}
		if !ok {
			result.RecordsSkipped++
			metrics.RecordsSkipped.Inc()
			continue
		}

		policy.Advance(r)
		batch = append(batch, s.enricher.Enrich(r))
		result.RecordsEmitted++
		metrics.RecordsEmitted.WithLabelValues(string(mode)).Inc()

		if len(batch) >= s.cfg.Destination.BatchSize {
			if err := flush(); err != nil {
				return fail(err)
			}
		}
	}

	// The fetch goroutine has closed both channels; a non-nil error
	// means some page never arrived and the cursor must not advance.
	if err := <-errc; err != nil {
		return fail(err)
	}

	if err := flush(); err != nil {
		return fail(err)
	}
	if err := s.load.Commit(ctx); err != nil {
		return fail(err)
	}

	// Commit succeeded; only now does the cursor move.
	result.FinalCursor = policy.Final()
	if err := s.store.Save(s.resourceKey(), result.FinalCursor); err != nil {
		return result, errors.Wrap(err, errors.ErrorTypeState, "records committed but cursor not persisted; next run will re-emit")
	}
	return result, nil
}
