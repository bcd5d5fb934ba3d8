// Package qc runs registered quality-control annotators over measurement
// records and memoizes one annotation per (annotator, record) pair.
package qc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"biodb/internal/artifact"
	"biodb/internal/blob"
	"biodb/internal/metrics"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/registry"
	"biodb/pkg/domain"
)

// AnnotatorSource resolves annotator keys to implementations.
type AnnotatorSource interface {
	Annotator(key string) (registry.Annotator, error)
}

// Options configures a Runner.
type Options struct {
	Schema artifact.Schema
}

// Runner computes and stores QC annotations.
type Runner struct {
	blobs      blob.Store
	annotators AnnotatorSource
	schema     artifact.Schema
	log        zerolog.Logger
	metrics    *metrics.Collector
}

// NewRunner constructs a runner reading artifacts from blobs. m may be nil.
func NewRunner(blobs blob.Store, annotators AnnotatorSource, opts Options, log zerolog.Logger, m *metrics.Collector) *Runner {
	if opts.Schema.Name == "" {
		opts.Schema = artifact.SchemaXY
	}
	return &Runner{blobs: blobs, annotators: annotators, schema: opts.Schema, log: log, metrics: m}
}

type loader func(ctx context.Context) (artifact.Data, error)

func (r *Runner) lazy(record domain.ArrayData) loader {
	var (
		once sync.Once
		data artifact.Data
		err  error
	)
	return func(ctx context.Context) (artifact.Data, error) {
		once.Do(func() {
			if record.DataKey == "" {
				err = fmt.Errorf("array_data %d has no artifact", record.ID)
				return
			}
			data, err = artifact.Load(ctx, r.blobs, record.DataKey, r.schema)
		})
		return data, err
	}
}

func preloaded(data artifact.Data) loader {
	return func(context.Context) (artifact.Data, error) { return data, nil }
}

// Annotate runs annotator on record, or the record's pending annotators when
// annotator is nil. An existing annotation is recomputed only when force is
// set. The returned slice is nil when nothing ran. Annotator failures are
// returned unchanged.
func (r *Runner) Annotate(ctx context.Context, q *sqlstore.Queries, record domain.ArrayData, annotator *domain.QCAnnotator, force bool) ([]domain.QCAnnotation, error) {
	return r.annotate(ctx, q, record, r.lazy(record), annotator, force)
}

// AnnotateData is Annotate for a caller that already holds the decoded artifact.
func (r *Runner) AnnotateData(ctx context.Context, q *sqlstore.Queries, record domain.ArrayData, data artifact.Data, annotator *domain.QCAnnotator, force bool) ([]domain.QCAnnotation, error) {
	return r.annotate(ctx, q, record, preloaded(data), annotator, force)
}

func (r *Runner) annotate(ctx context.Context, q *sqlstore.Queries, record domain.ArrayData, load loader, annotator *domain.QCAnnotator, force bool) ([]domain.QCAnnotation, error) {
	targets, err := r.plan(ctx, q, record, annotator, force)
	if err != nil || len(targets) == 0 {
		return nil, err
	}
	data, err := load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QCAnnotation, 0, len(targets))
	for _, a := range targets {
		value, err := r.compute(a, data)
		if err != nil {
			r.metrics.ObserveAnnotation(a.Name, metrics.OutcomeFailed)
			return nil, err
		}
		ann, err := q.UpsertQCAnnotation(ctx, domain.QCAnnotation{AnnotatorID: a.ID, ArrayDataID: record.ID, Value: value})
		if err != nil {
			return nil, err
		}
		r.metrics.ObserveAnnotation(a.Name, metrics.OutcomeCommitted)
		out = append(out, ann)
	}
	return out, nil
}

// AnnotateBestEffort runs the record's pending annotators like Annotate with
// a nil annotator, but an annotator that fails leaves a nil slot under its
// name instead of aborting the others. Storage errors are still returned.
func (r *Runner) AnnotateBestEffort(ctx context.Context, q *sqlstore.Queries, record domain.ArrayData, force bool) (map[string]*domain.QCAnnotation, error) {
	targets, err := r.plan(ctx, q, record, nil, force)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.QCAnnotation, len(targets))
	if len(targets) == 0 {
		return out, nil
	}
	data, loadErr := r.lazy(record)(ctx)
	for _, a := range targets {
		if loadErr != nil {
			r.log.Warn().Err(loadErr).Int64("array_data_id", record.ID).Str("annotator", a.Name).Msg("qc artifact unavailable")
			out[a.Name] = nil
			continue
		}
		value, err := r.compute(a, data)
		if err != nil {
			r.log.Warn().Err(err).Int64("array_data_id", record.ID).Str("annotator", a.Name).Msg("qc annotator failed")
			r.metrics.ObserveAnnotation(a.Name, metrics.OutcomeFailed)
			out[a.Name] = nil
			continue
		}
		ann, err := q.UpsertQCAnnotation(ctx, domain.QCAnnotation{AnnotatorID: a.ID, ArrayDataID: record.ID, Value: value})
		if err != nil {
			return nil, err
		}
		r.metrics.ObserveAnnotation(a.Name, metrics.OutcomeCommitted)
		out[a.Name] = &ann
	}
	return out, nil
}

// plan lists the annotators to run for record.
func (r *Runner) plan(ctx context.Context, q *sqlstore.Queries, record domain.ArrayData, annotator *domain.QCAnnotator, force bool) ([]domain.QCAnnotator, error) {
	if annotator != nil {
		_, err := q.GetQCAnnotation(ctx, annotator.ID, record.ID)
		switch {
		case err == nil && !force:
			return nil, nil
		case err == nil, errors.Is(err, sqlstore.ErrNotFound):
			return []domain.QCAnnotator{*annotator}, nil
		default:
			return nil, err
		}
	}
	existing, err := q.ListQCAnnotations(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	have := make(map[int64]struct{}, len(existing))
	var targets []domain.QCAnnotator
	for _, e := range existing {
		have[e.AnnotatorID] = struct{}{}
		if !force {
			continue
		}
		a, err := q.GetQCAnnotatorByID(ctx, e.AnnotatorID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, a)
	}
	defaults, err := q.ListQCAnnotators(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, a := range defaults {
		if _, ok := have[a.ID]; !ok {
			targets = append(targets, a)
		}
	}
	return targets, nil
}

// compute runs the implementation bound to a and returns its value in the
// canonical text form of the annotator's declared type.
func (r *Runner) compute(a domain.QCAnnotator, data artifact.Data) (string, error) {
	impl, err := r.annotators.Annotator(a.Key)
	if err != nil {
		return "", err
	}
	raw, err := impl.Run(data)
	if err != nil {
		return "", fmt.Errorf("annotator %s: %w", a.Name, err)
	}
	v, err := a.ValueType.Cast(impl.ValueType().Canonical(raw))
	if err != nil {
		return "", fmt.Errorf("annotator %s result: %w", a.Name, err)
	}
	return a.ValueType.Canonical(v), nil
}
