package core

import (
	"context"
	"errors"
	"strconv"

	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

// maxChainDepth bounds the cycle walk over previous-visit links.
const maxChainDepth = 10000

// VisitChainRule keeps previous-visit links acyclic and within one patient.
func VisitChainRule() Rule {
	return visitChainRule{}
}

type visitChainRule struct{}

func (visitChainRule) Name() string { return "visit_chain" }

func (r visitChainRule) Evaluate(ctx context.Context, q *sqlstore.Queries, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityVisit || change.After == nil {
			continue
		}
		v, ok := change.After.(domain.Visit)
		if !ok || v.PreviousVisitID == nil {
			continue
		}
		id := strconv.FormatInt(v.ID, 10)
		prevID := *v.PreviousVisitID
		if v.ID != 0 && prevID == v.ID {
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityVisit, id,
				domain.NewFieldError(domain.EntityVisit, "previous_visit", domain.CodeVisitOrder, id, "a visit cannot be its own previous visit")))
			continue
		}
		prev, err := q.GetVisit(ctx, prevID)
		if errors.Is(err, sqlstore.ErrNotFound) {
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityVisit, id,
				domain.NewFieldError(domain.EntityVisit, "previous_visit", domain.CodeNotFound, strconv.FormatInt(prevID, 10),
					"previous visit %d does not exist", prevID)))
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if prev.PatientID != v.PatientID {
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityVisit, id,
				domain.NewFieldError(domain.EntityVisit, "previous_visit", domain.CodeVisitOrder, strconv.FormatInt(prevID, 10),
					"previous visit %d belongs to patient %s, not %s", prevID, prev.PatientID, v.PatientID)))
			continue
		}
		if v.ID == 0 {
			continue
		}
		cyclic, err := reaches(ctx, q, prev, v.ID)
		if err != nil {
			return Result{}, err
		}
		if cyclic {
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityVisit, id,
				domain.NewFieldError(domain.EntityVisit, "previous_visit", domain.CodeVisitOrder, strconv.FormatInt(prevID, 10),
					"linking visit %d to %d would create a cycle", v.ID, prevID)))
		}
	}
	return res, nil
}

// reaches walks previous links from start and reports whether target is met.
func reaches(ctx context.Context, q *sqlstore.Queries, start domain.Visit, target int64) (bool, error) {
	cur := start
	for depth := 0; depth < maxChainDepth; depth++ {
		if cur.ID == target {
			return true, nil
		}
		if cur.PreviousVisitID == nil {
			return false, nil
		}
		next, err := q.GetVisit(ctx, *cur.PreviousVisitID)
		if errors.Is(err, sqlstore.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		cur = next
	}
	return true, nil
}
