// Package prune removes stored artifacts that no array data record
// references any more.
package prune

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zeebo/errs"

	"biodb/internal/artifact"
	"biodb/internal/blob"
	"biodb/internal/metrics"
	"biodb/internal/persistence/sqlstore"
)

// Report summarizes one prune pass.
type Report struct {
	Orphans []string
	Deleted int
	DryRun  bool
}

// Pruner compares the artifacts under a prefix with the keys recorded in the database.
type Pruner struct {
	store   *sqlstore.Store
	blobs   blob.Store
	prefix  string
	log     zerolog.Logger
	metrics *metrics.Collector
}

// New constructs a pruner for artifacts stored under prefix.
func New(store *sqlstore.Store, blobs blob.Store, prefix string, log zerolog.Logger, m *metrics.Collector) *Pruner {
	return &Pruner{store: store, blobs: blobs, prefix: prefix, log: log, metrics: m}
}

// Orphans lists unreferenced artifact keys without deleting anything.
func (p *Pruner) Orphans(ctx context.Context) ([]string, error) {
	referenced, err := p.store.Queries().ListDataKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list data keys: %w", err)
	}
	return artifact.Orphans(ctx, p.blobs, p.prefix, referenced)
}

// Run deletes every orphan unless dryRun is set. progress, when non-nil, is
// called once per orphan visited. Every deletion is attempted; failures are
// reported together.
func (p *Pruner) Run(ctx context.Context, dryRun bool, progress func()) (Report, error) {
	orphans, err := p.Orphans(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{Orphans: orphans, DryRun: dryRun}
	if dryRun {
		p.log.Info().Int("orphans", len(orphans)).Bool("dry_run", true).Msg("prune")
		return report, nil
	}

	var group errs.Group
	for _, key := range orphans {
		if err := ctx.Err(); err != nil {
			group.Add(err)
			break
		}
		ok, err := p.blobs.Delete(ctx, key)
		switch {
		case err != nil:
			p.log.Warn().Err(err).Str("key", key).Msg("delete orphan failed")
			group.Add(fmt.Errorf("delete %s: %w", key, err))
		case ok:
			report.Deleted++
		}
		if progress != nil {
			progress()
		}
	}
	p.metrics.AddPruned(report.Deleted)
	p.log.Info().Int("orphans", len(orphans)).Int("deleted", report.Deleted).Msg("prune")
	return report, group.Err()
}
