package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"biodb/internal/blob"
	"biodb/internal/centers"
	"biodb/internal/config"
	"biodb/internal/core"
	"biodb/internal/ingest"
	"biodb/internal/logging"
	"biodb/internal/metrics"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/qc"
	"biodb/internal/registry"
	"biodb/internal/views"
)

// app holds the collaborators every command builds on.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	data     *sqlstore.Store
	catalog  *sqlstore.Store
	blobs    blob.Store
	registry *registry.Registry
	prom     *prometheus.Registry
	metrics  *metrics.Collector
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.IsDev(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: registry.Default(), prom: prometheus.NewRegistry()}
	a.metrics = metrics.NewCollector(a.prom)

	if a.data, err = sqlstore.Open(ctx, cfg.DataDBDriver, cfg.DataDBDSN); err != nil {
		return nil, err
	}
	a.catalog = a.data
	if cfg.SeparateCatalog() {
		if a.catalog, err = sqlstore.Open(ctx, cfg.CatalogDBDriver, cfg.CatalogDBDSN); err != nil {
			a.close()
			return nil, err
		}
	}
	if a.blobs, err = blob.Open(ctx, cfg.Blob()); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close writes the metrics textfile when configured and closes the stores.
func (a *app) close() {
	if a.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(a.cfg.MetricsTextfile, a.prom); err != nil {
			a.log.Warn().Err(err).Str("path", a.cfg.MetricsTextfile).Msg("write metrics textfile")
		}
	}
	if a.catalog != nil && a.catalog != a.data {
		_ = a.catalog.Close()
	}
	if a.data != nil {
		_ = a.data.Close()
	}
}

func (a *app) qcRunner() *qc.Runner {
	return qc.NewRunner(a.blobs, a.registry, qc.Options{Schema: a.cfg.Schema()}, a.log, a.metrics)
}

func (a *app) ingestEngine() *ingest.Engine {
	return ingest.New(ingest.Deps{
		Store:     a.data,
		Blobs:     a.blobs,
		Validator: core.NewValidator(a.registry, core.Options{AgeObservable: a.cfg.AgeObservable}),
		QC:        a.qcRunner(),
		Metrics:   a.metrics,
		Log:       a.log,
	}, ingest.Options{
		ArtifactPrefix:        a.cfg.ArtifactPrefix,
		Schema:                a.cfg.Schema(),
		AutoAnnotate:          a.cfg.AutoAnnotate,
		AutoFindPreviousVisit: a.cfg.AutoFindPreviousVisit,
	})
}

func (a *app) viewEngine() *views.Engine {
	return views.NewEngine(a.data, a.log, a.metrics)
}

func (a *app) views() []views.View {
	return views.Default(a.cfg.ViewExcluded)
}

func (a *app) centers() *centers.Service {
	return centers.New(a.catalog, a.data, a.log)
}
