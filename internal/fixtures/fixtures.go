// Package fixtures loads the admin-managed reference data (centers,
// instruments, sample and measurement types, observables and QC annotators)
// from a JSON document. Loading is idempotent: records that already exist
// by name or ID are skipped.
package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"biodb/internal/centers"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/registry"
	"biodb/pkg/domain"
)

type Document struct {
	Centers          []Center     `json:"centers"`
	BioSampleTypes   []string     `json:"biosample_types"`
	MeasurementTypes []string     `json:"measurement_types"`
	Instruments      []Instrument `json:"instruments"`
	Observables      []Observable `json:"observables"`
	QCAnnotators     []Annotator  `json:"qc_annotators"`
}

type Center struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Country string    `json:"country"`
}

type Instrument struct {
	ID           uuid.UUID `json:"id"`
	CID          string    `json:"cid"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	SerialNumber string    `json:"serial_number"`
	Center       string    `json:"center,omitempty"`
}

// Observable lists its centers by name; no centers makes it global.
type Observable struct {
	Name        string   `json:"name"`
	Alias       string   `json:"alias,omitempty"`
	Category    string   `json:"category"`
	ValueType   string   `json:"value_type"`
	Description string   `json:"description,omitempty"`
	Choices     []string `json:"choices,omitempty"`
	Validator   string   `json:"validator,omitempty"`
	Centers     []string `json:"centers,omitempty"`
}

type Annotator struct {
	Name      string `json:"name"`
	Key       string `json:"key"`
	ValueType string `json:"value_type"`
	Default   *bool  `json:"default,omitempty"`
}

// Decode reads a document, rejecting unknown fields.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return doc, nil
}

// Summary counts created and skipped records.
type Summary struct {
	Created int
	Skipped int
}

// Loader writes documents through the center service and the data store.
type Loader struct {
	centers  *centers.Service
	store    *sqlstore.Store
	registry *registry.Registry
	log      zerolog.Logger
}

// NewLoader constructs a loader. Observable validators and annotator keys
// are resolved against reg.
func NewLoader(svc *centers.Service, store *sqlstore.Store, reg *registry.Registry, log zerolog.Logger) *Loader {
	return &Loader{centers: svc, store: store, registry: reg, log: log}
}

// Load creates the centers of doc through the center service, then every
// other record in one data store transaction.
func (l *Loader) Load(ctx context.Context, doc Document) (Summary, error) {
	var sum Summary
	existing, err := l.store.Queries().ListCenters(ctx)
	if err != nil {
		return sum, err
	}
	byName := make(map[string]uuid.UUID, len(existing))
	for _, c := range existing {
		byName[strings.ToLower(c.Name)] = c.ID
	}
	for _, c := range doc.Centers {
		if _, ok := byName[strings.ToLower(strings.TrimSpace(c.Name))]; ok {
			sum.Skipped++
			continue
		}
		created, err := l.centers.Create(ctx, domain.Center{ID: c.ID, Name: c.Name, Country: c.Country})
		if err != nil {
			return sum, err
		}
		byName[strings.ToLower(created.Name)] = created.ID
		sum.Created++
	}
	centerID := func(name string) (uuid.UUID, error) {
		id, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return uuid.Nil, domain.NewFieldError(domain.EntityCenter, "name", domain.CodeNotFound, name, "center %q does not exist", name)
		}
		return id, nil
	}

	var rest Summary
	err = l.store.RunInTransaction(ctx, func(q *sqlstore.Queries) error {
		rest = Summary{}
		if err := l.types(ctx, q, doc, &rest); err != nil {
			return err
		}
		if err := l.instruments(ctx, q, doc.Instruments, centerID, &rest); err != nil {
			return err
		}
		if err := l.observables(ctx, q, doc.Observables, centerID, &rest); err != nil {
			return err
		}
		return l.annotators(ctx, q, doc.QCAnnotators, &rest)
	})
	if err != nil {
		return sum, err
	}
	sum.Created += rest.Created
	sum.Skipped += rest.Skipped
	l.log.Info().Int("created", sum.Created).Int("skipped", sum.Skipped).Msg("fixtures loaded")
	return sum, nil
}

func (l *Loader) types(ctx context.Context, q *sqlstore.Queries, doc Document, sum *Summary) error {
	for _, name := range doc.BioSampleTypes {
		_, err := q.FindBioSampleType(ctx, name)
		found, err := exists(err)
		if err != nil {
			return err
		}
		if found {
			sum.Skipped++
			continue
		}
		if _, err := q.CreateBioSampleType(ctx, name); err != nil {
			return err
		}
		sum.Created++
	}
	for _, name := range doc.MeasurementTypes {
		_, err := q.FindMeasurementType(ctx, name)
		found, err := exists(err)
		if err != nil {
			return err
		}
		if found {
			sum.Skipped++
			continue
		}
		if _, err := q.CreateMeasurementType(ctx, name); err != nil {
			return err
		}
		sum.Created++
	}
	return nil
}

func (l *Loader) instruments(ctx context.Context, q *sqlstore.Queries, list []Instrument, centerID func(string) (uuid.UUID, error), sum *Summary) error {
	for _, in := range list {
		if in.ID != uuid.Nil {
			_, err := q.GetInstrument(ctx, in.ID)
			found, err := exists(err)
			if err != nil {
				return err
			}
			if found {
				sum.Skipped++
				continue
			}
		}
		inst := domain.Instrument{ID: in.ID, CID: in.CID, Manufacturer: in.Manufacturer, Model: in.Model, SerialNumber: in.SerialNumber}
		if in.Center != "" {
			id, err := centerID(in.Center)
			if err != nil {
				return err
			}
			inst.CenterID = &id
		}
		if _, err := q.CreateInstrument(ctx, inst); err != nil {
			return err
		}
		sum.Created++
	}
	return nil
}

func (l *Loader) observables(ctx context.Context, q *sqlstore.Queries, list []Observable, centerID func(string) (uuid.UUID, error), sum *Summary) error {
	for _, o := range list {
		_, err := q.GetObservableByName(ctx, o.Name)
		found, err := exists(err)
		if err != nil {
			return err
		}
		if found {
			sum.Skipped++
			continue
		}
		category, err := domain.ParseCategory(o.Category)
		if err != nil {
			return err
		}
		vt, err := domain.ParseValueType(o.ValueType)
		if err != nil {
			return domain.NewFieldError(domain.EntityObservable, "value_type", domain.CodeInvalidChoice, o.ValueType, "%v", err)
		}
		obs := domain.Observable{
			Name:        o.Name,
			Alias:       o.Alias,
			Category:    category,
			ValueType:   vt,
			Description: o.Description,
			Choices:     o.Choices,
		}
		if o.Validator != "" {
			if _, err := l.registry.Validator(o.Validator); err != nil {
				return err
			}
			key := o.Validator
			obs.ValidatorKey = &key
		}
		for _, name := range o.Centers {
			id, err := centerID(name)
			if err != nil {
				return err
			}
			obs.CenterIDs = append(obs.CenterIDs, id)
		}
		if _, err := q.CreateObservable(ctx, obs); err != nil {
			return err
		}
		sum.Created++
	}
	return nil
}

func (l *Loader) annotators(ctx context.Context, q *sqlstore.Queries, list []Annotator, sum *Summary) error {
	for _, a := range list {
		_, err := q.GetQCAnnotator(ctx, a.Name)
		found, err := exists(err)
		if err != nil {
			return err
		}
		if found {
			sum.Skipped++
			continue
		}
		vt, err := domain.ParseValueType(a.ValueType)
		if err != nil {
			return domain.NewFieldError(domain.EntityQCAnnotator, "value_type", domain.CodeInvalidChoice, a.ValueType, "%v", err)
		}
		if _, err := l.registry.Annotator(a.Key); err != nil {
			return err
		}
		def := true
		if a.Default != nil {
			def = *a.Default
		}
		if _, err := q.CreateQCAnnotator(ctx, domain.QCAnnotator{Name: a.Name, Key: a.Key, ValueType: vt, Default: def}); err != nil {
			return err
		}
		sum.Created++
	}
	return nil
}

// exists maps a lookup error to found, absent or failed.
func exists(lookupErr error) (bool, error) {
	switch {
	case lookupErr == nil:
		return true, nil
	case errors.Is(lookupErr, sqlstore.ErrNotFound):
		return false, nil
	default:
		return false, lookupErr
	}
}
