// Package ingest loads a bulk upload (a meta-data table joined 1:1 with an
// array-data table) into the entity graph inside one transaction and writes
// one artifact per row to blob storage, deleting those artifacts again when
// the transaction does not commit.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"biodb/internal/artifact"
	"biodb/internal/blob"
	"biodb/internal/core"
	"biodb/internal/metrics"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/qc"
	"biodb/internal/schema"
	"biodb/internal/tabular"
	"biodb/pkg/domain"
)

// DefaultArtifactPrefix is the storage directory of array-data artifacts.
const DefaultArtifactPrefix = "array_data"

// Options configures optional ingestion behavior.
type Options struct {
	ArtifactPrefix        string
	Schema                artifact.Schema
	AutoAnnotate          bool
	AutoFindPreviousVisit bool
}

// Deps are the collaborators of an Engine. QC and Metrics may be nil.
type Deps struct {
	Store     *sqlstore.Store
	Blobs     blob.Store
	Schemas   *schema.Registry
	Validator *core.Validator
	QC        *qc.Runner
	Metrics   *metrics.Collector
	Log       zerolog.Logger
}

// Engine ingests bulk uploads.
type Engine struct {
	deps Deps
	opts Options
}

// New constructs an engine.
func New(deps Deps, opts Options) *Engine {
	if opts.ArtifactPrefix == "" {
		opts.ArtifactPrefix = DefaultArtifactPrefix
	}
	if opts.Schema.Name == "" {
		opts.Schema = artifact.SchemaXY
	}
	if deps.Schemas == nil {
		deps.Schemas = schema.Default()
	}
	return &Engine{deps: deps, opts: opts}
}

// Request is one bulk upload. Joined, when set, replaces reading Meta and Array.
type Request struct {
	Meta   tabular.Source
	Array  tabular.Source
	Joined []tabular.JoinedRow
	Center uuid.UUID
	DryRun bool
}

// Result counts what a batch wrote. For a dry run the counts describe what
// would have been written.
type Result struct {
	Rows           int
	Patients       int
	PatientsReused int
	Visits         int
	BioSamples     int
	ArrayData      int
	Observations   int
	Annotations    int
	Files          []string
	DryRun         bool
}

// errDryRun aborts the transaction of a successful dry run.
var errDryRun = errors.New("ingest: dry run")

// Ingest runs the upload. Every row's entities commit together or not at
// all; on failure every artifact written by the call is deleted, and
// temporary dry-run artifacts are always deleted.
func (e *Engine) Ingest(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	rows := req.Joined
	if rows == nil {
		rows, err = tabular.Read(req.Meta, req.Array, e.opts.Schema)
		if err != nil {
			e.deps.Metrics.ObserveBatch(metrics.OutcomeFailed, time.Since(start))
			return Result{}, err
		}
	}

	tracker := artifact.NewTracker(e.deps.Blobs, e.deps.Log)
	// compensation must outlive a cancelled request
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		n, cleanupErr := tracker.CleanupTemp(cleanupCtx)
		e.deps.Metrics.AddCompensated(n)
		if cleanupErr != nil {
			e.deps.Log.Warn().Err(cleanupErr).Msg("temporary artifact cleanup incomplete")
		}
	}()

	b := &batch{engine: e, tracker: tracker, center: req.Center, dryRun: req.DryRun}
	if req.DryRun {
		b.token = artifact.NewToken()
	}
	txErr := e.deps.Store.RunInTransaction(ctx, func(q *sqlstore.Queries) error {
		if err := b.prepare(ctx, q); err != nil {
			return err
		}
		for i, row := range rows {
			if err := b.row(ctx, q, row); err != nil {
				e.deps.Log.Debug().Err(err).Int("row", i).Str("patient_id", row.Key).Msg("ingest row rejected")
				return err
			}
		}
		if req.DryRun {
			return errDryRun
		}
		return nil
	})
	b.res.Rows = len(rows)
	b.res.DryRun = req.DryRun

	outcome := metrics.OutcomeCommitted
	switch {
	case txErr == nil:
	case errors.Is(txErr, errDryRun) && req.DryRun:
		outcome = metrics.OutcomeDryRun
	default:
		n, rbErr := tracker.Rollback(cleanupCtx)
		e.deps.Metrics.AddCompensated(n)
		if rbErr != nil {
			e.deps.Log.Warn().Err(rbErr).Int("deleted", n).Msg("artifact compensation incomplete")
		}
		e.deps.Metrics.ObserveBatch(metrics.OutcomeFailed, time.Since(start))
		e.deps.Log.Info().Err(txErr).Int("rows", len(rows)).Bool("dry_run", req.DryRun).
			Str("center", req.Center.String()).Dur("duration", time.Since(start)).Msg("ingest failed")
		return Result{}, txErr
	}

	if outcome == metrics.OutcomeCommitted {
		e.deps.Metrics.AddEntities(string(domain.EntityPatient), b.res.Patients)
		e.deps.Metrics.AddEntities(string(domain.EntityVisit), b.res.Visits)
		e.deps.Metrics.AddEntities(string(domain.EntityBioSample), b.res.BioSamples)
		e.deps.Metrics.AddEntities(string(domain.EntityArrayData), b.res.ArrayData)
		e.deps.Metrics.AddEntities(string(domain.EntityObservation), b.res.Observations)
		e.deps.Metrics.AddEntities(string(domain.EntityQCAnnotation), b.res.Annotations)
	}
	e.deps.Metrics.ObserveBatch(outcome, time.Since(start))
	e.deps.Log.Info().Int("rows", b.res.Rows).Int("patients", b.res.Patients).Int("patients_reused", b.res.PatientsReused).
		Int("observations", b.res.Observations).Bool("dry_run", req.DryRun).Str("center", req.Center.String()).
		Dur("duration", time.Since(start)).Msg("ingest batch")
	return b.res, nil
}
