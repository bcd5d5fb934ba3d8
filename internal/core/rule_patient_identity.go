package core

import (
	"context"
	"errors"
	"strings"

	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

// PatientIdentityRule enforces that a center patient identifier differs from
// the global patient ID and is unique within the patient's center.
func PatientIdentityRule() Rule {
	return patientIdentityRule{}
}

type patientIdentityRule struct{}

func (patientIdentityRule) Name() string { return "patient_identity" }

func (r patientIdentityRule) Evaluate(ctx context.Context, q *sqlstore.Queries, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPatient || change.After == nil {
			continue
		}
		p, ok := change.After.(domain.Patient)
		if !ok || p.CID == nil {
			continue
		}
		id := p.ID.String()
		cid := strings.TrimSpace(*p.CID)
		if cid == "" {
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityPatient, id,
				domain.NewFieldError(domain.EntityPatient, "patient_cid", domain.CodeRequired, "", "patient_cid must not be blank when given")))
			continue
		}
		if strings.EqualFold(cid, id) {
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityPatient, id,
				domain.NewFieldError(domain.EntityPatient, "patient_cid", domain.CodeIdentifierConflict, cid,
					"patient_cid must differ from patient_id %s", id)))
			continue
		}
		existing, err := q.FindPatientByCID(ctx, p.CenterID, cid)
		switch {
		case err == nil && existing.ID != p.ID:
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityPatient, id,
				domain.NewFieldError(domain.EntityPatient, "patient_cid", domain.CodeDuplicate, cid,
					"patient_cid %q is already used by patient %s at this center", cid, existing.ID)))
		case err != nil && !errors.Is(err, sqlstore.ErrNotFound):
			return Result{}, err
		}
	}
	return res, nil
}
