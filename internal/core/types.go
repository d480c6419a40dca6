package core

import "bloodbank/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	BloodType          = domain.BloodType
	Patient            = domain.Patient
	Donation           = domain.Donation
	Issuance           = domain.Issuance
	Request            = domain.Request
	Distribution       = domain.Distribution
	RejectionSummary   = domain.RejectionSummary
	DemandLine         = domain.DemandLine
	Shortfall          = domain.Shortfall
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityPatient      = domain.EntityPatient
	EntityDonation     = domain.EntityDonation
	EntityIssuance     = domain.EntityIssuance
	EntityRequest      = domain.EntityRequest
	EntityDistribution = domain.EntityDistribution
	EntityRejection    = domain.EntityRejection
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)
