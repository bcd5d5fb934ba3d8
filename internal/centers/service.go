// Package centers keeps the center table of the catalog database and the
// data database in step. The same center ID must denote the same name and
// country in both.
package centers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

// Service writes centers to the catalog first and replicates them to the
// data store. When both stores are the same, replication is skipped.
type Service struct {
	catalog *sqlstore.Store
	data    *sqlstore.Store
	log     zerolog.Logger
}

// New constructs a service. data may be nil or equal to catalog for a
// single-database deployment.
func New(catalog, data *sqlstore.Store, log zerolog.Logger) *Service {
	if data == nil {
		data = catalog
	}
	return &Service{catalog: catalog, data: data, log: log}
}

func (s *Service) replicated() bool { return s.catalog != s.data }

// Create inserts c into the catalog and then into the data store under the
// same ID. A failed replica write removes the catalog row again.
func (s *Service) Create(ctx context.Context, c domain.Center) (domain.Center, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return domain.Center{}, domain.NewFieldError(domain.EntityCenter, "name", domain.CodeRequired, "", "center name is required")
	}
	created, err := s.catalog.Queries().CreateCenter(ctx, c)
	if err != nil {
		return domain.Center{}, err
	}
	if !s.replicated() {
		return created, nil
	}
	if _, err := s.data.Queries().CreateCenter(ctx, created); err != nil {
		if _, derr := s.catalog.Queries().DeleteCenter(ctx, created.ID); derr != nil {
			s.log.Error().Err(derr).Str("center", created.ID.String()).Msg("catalog compensation failed")
		}
		return domain.Center{}, fmt.Errorf("replicate center %s: %w", created.ID, err)
	}
	s.log.Info().Str("center", created.ID.String()).Str("name", created.Name).Msg("center created")
	return created, nil
}

// Update rewrites name and country in both stores.
func (s *Service) Update(ctx context.Context, c domain.Center) (domain.Center, error) {
	updated, err := s.catalog.Queries().UpdateCenter(ctx, c)
	if err != nil {
		return domain.Center{}, err
	}
	if s.replicated() {
		if err := s.upsert(ctx, s.data.Queries(), updated); err != nil {
			return domain.Center{}, fmt.Errorf("replicate center %s: %w", c.ID, err)
		}
	}
	return updated, nil
}

// Delete removes the center from the data store and then the catalog. A
// center still owning patients cannot be deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if s.replicated() {
		if _, err := s.data.Queries().DeleteCenter(ctx, id); err != nil {
			return false, err
		}
	}
	return s.catalog.Queries().DeleteCenter(ctx, id)
}

// SyncReport counts the replica rows written by Sync.
type SyncReport struct {
	Created int
	Updated int
}

// Sync copies every catalog center into the data store in one transaction.
// Centers present only in the data store are left alone; Verify reports them.
func (s *Service) Sync(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if !s.replicated() {
		return report, nil
	}
	source, err := s.catalog.Queries().ListCenters(ctx)
	if err != nil {
		return report, err
	}
	err = s.data.RunInTransaction(ctx, func(q *sqlstore.Queries) error {
		report = SyncReport{}
		for _, c := range source {
			existing, err := q.GetCenter(ctx, c.ID)
			switch {
			case errors.Is(err, sqlstore.ErrNotFound):
				if _, err := q.CreateCenter(ctx, c); err != nil {
					return err
				}
				report.Created++
			case err != nil:
				return err
			case !same(existing, c):
				if _, err := q.UpdateCenter(ctx, c); err != nil {
					return err
				}
				report.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return SyncReport{}, err
	}
	s.log.Info().Int("created", report.Created).Int("updated", report.Updated).Msg("centers synced")
	return report, nil
}

// Mismatch describes one center ID that does not denote the same center in
// both stores. A nil side means the ID is absent from that store.
type Mismatch struct {
	ID      uuid.UUID
	Catalog *domain.Center
	Data    *domain.Center
}

func (m Mismatch) String() string {
	switch {
	case m.Catalog == nil:
		return fmt.Sprintf("%s: only in data store (%s)", m.ID, m.Data.Name)
	case m.Data == nil:
		return fmt.Sprintf("%s: only in catalog (%s)", m.ID, m.Catalog.Name)
	default:
		return fmt.Sprintf("%s: catalog %q/%q, data %q/%q", m.ID, m.Catalog.Name, m.Catalog.Country, m.Data.Name, m.Data.Country)
	}
}

// Verify compares both stores and returns every mismatch ordered by ID.
func (s *Service) Verify(ctx context.Context) ([]Mismatch, error) {
	if !s.replicated() {
		return nil, nil
	}
	catalog, err := s.catalog.Queries().ListCenters(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.data.Queries().ListCenters(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Center, len(data))
	for i := range data {
		byID[data[i].ID] = &data[i]
	}
	var out []Mismatch
	for i := range catalog {
		c := &catalog[i]
		d, ok := byID[c.ID]
		delete(byID, c.ID)
		switch {
		case !ok:
			out = append(out, Mismatch{ID: c.ID, Catalog: c})
		case !same(*c, *d):
			out = append(out, Mismatch{ID: c.ID, Catalog: c, Data: d})
		}
	}
	for id, d := range byID {
		out = append(out, Mismatch{ID: id, Data: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Service) upsert(ctx context.Context, q *sqlstore.Queries, c domain.Center) error {
	_, err := q.UpdateCenter(ctx, c)
	if errors.Is(err, sqlstore.ErrNotFound) {
		_, err = q.CreateCenter(ctx, c)
	}
	return err
}

func same(a, b domain.Center) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Country == b.Country
}
