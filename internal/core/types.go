package core

import "biodb/pkg/domain"

type (
	EntityType = domain.EntityType
	Severity   = domain.Severity
	Change     = domain.Change
	Action     = domain.Action
	Violation  = domain.Violation
	Result     = domain.Result
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
