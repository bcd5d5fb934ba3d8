package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"biodb/pkg/domain"
)

const centerColumns = "id, name, country, created_at, updated_at"

// CreateCenter inserts c, assigning an ID when c.ID is zero.
func (q *Queries) CreateCenter(ctx context.Context, c domain.Center) (domain.Center, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	q.stamp(&c.Dated)
	_, err := q.Exec(ctx, "INSERT INTO center ("+centerColumns+") VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, c.Country, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.Center{}, fmt.Errorf("insert center: %w", err)
	}
	return c, nil
}

// UpdateCenter rewrites name and country.
func (q *Queries) UpdateCenter(ctx context.Context, c domain.Center) (domain.Center, error) {
	c.UpdatedAt = q.timestamp()
	res, err := q.Exec(ctx, "UPDATE center SET name = ?, country = ?, updated_at = ? WHERE id = ?", c.Name, c.Country, c.UpdatedAt, c.ID)
	if err != nil {
		return domain.Center{}, fmt.Errorf("update center: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Center{}, fmt.Errorf("center %s: %w", c.ID, ErrNotFound)
	}
	return q.GetCenter(ctx, c.ID)
}

// GetCenter loads a center by ID.
func (q *Queries) GetCenter(ctx context.Context, id uuid.UUID) (domain.Center, error) {
	c, err := scanCenter(q.QueryRow(ctx, "SELECT "+centerColumns+" FROM center WHERE id = ?", id))
	if err != nil {
		return domain.Center{}, notFound(err, domain.EntityCenter, id)
	}
	return c, nil
}

// ListCenters returns all centers ordered by name.
func (q *Queries) ListCenters(ctx context.Context) ([]domain.Center, error) {
	rows, err := q.Query(ctx, "SELECT "+centerColumns+" FROM center ORDER BY name, country, id")
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Center
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCenter removes a center, reporting whether it existed.
func (q *Queries) DeleteCenter(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := q.Exec(ctx, "DELETE FROM center WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete center: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCenter(s scanner) (domain.Center, error) {
	var c domain.Center
	var created, updated timestamp
	if err := s.Scan(&c.ID, &c.Name, &c.Country, &created, &updated); err != nil {
		return domain.Center{}, err
	}
	c.CreatedAt, c.UpdatedAt = created.Time, updated.Time
	return c, nil
}
