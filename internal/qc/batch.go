package qc

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"biodb/internal/artifact"
	"biodb/internal/metrics"
	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

// Summary reports the outcome of AnnotateAll.
type Summary struct {
	Records     int
	Annotations int
	Skipped     int
}

type job struct {
	record  domain.ArrayData
	targets []domain.QCAnnotator
	values  []string
}

// AnnotateAll annotates every stored measurement record. Artifacts are loaded
// and annotators run concurrently, at most concurrency at a time; results are
// written in one transaction once every computation succeeded. progress, when
// set, is called once per finished record and may be called concurrently.
func (r *Runner) AnnotateAll(ctx context.Context, store *sqlstore.Store, force bool, concurrency int, progress func()) (Summary, error) {
	start := time.Now()
	q := store.Queries()
	records, err := q.ListArrayData(ctx)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	var jobs []*job
	for _, rec := range records {
		if rec.DataKey == "" || artifact.IsTemp(rec.DataKey) {
			sum.Skipped++
			continue
		}
		targets, err := r.plan(ctx, q, rec, nil, force)
		if err != nil {
			return Summary{}, err
		}
		if len(targets) == 0 {
			sum.Skipped++
			continue
		}
		jobs = append(jobs, &job{record: rec, targets: targets})
	}

	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			defer func() {
				if progress != nil {
					progress()
				}
			}()
			data, err := artifact.Load(gctx, r.blobs, j.record.DataKey, r.schema)
			if err != nil {
				return err
			}
			j.values = make([]string, len(j.targets))
			for i, a := range j.targets {
				v, err := r.compute(a, data)
				if err != nil {
					r.metrics.ObserveAnnotation(a.Name, metrics.OutcomeFailed)
					return err
				}
				j.values[i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	err = store.RunInTransaction(ctx, func(tx *sqlstore.Queries) error {
		for _, j := range jobs {
			for i, a := range j.targets {
				if _, err := tx.UpsertQCAnnotation(ctx, domain.QCAnnotation{AnnotatorID: a.ID, ArrayDataID: j.record.ID, Value: j.values[i]}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	for _, j := range jobs {
		sum.Records++
		sum.Annotations += len(j.targets)
		for _, a := range j.targets {
			r.metrics.ObserveAnnotation(a.Name, metrics.OutcomeCommitted)
		}
	}
	r.log.Info().Int("records", sum.Records).Int("annotations", sum.Annotations).Int("skipped", sum.Skipped).
		Dur("duration", time.Since(start)).Msg("qc annotate all")
	return sum, nil
}
