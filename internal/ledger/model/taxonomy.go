package model

// ActorType identifies the kind of principal that performed an action.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorHuman  ActorType = "human"
	ActorAPIKey ActorType = "api_key"
)

// Valid reports whether t is a known actor type.
func (t ActorType) Valid() bool {
	switch t {
	case ActorSystem, ActorHuman, ActorAPIKey:
		return true
	}
	return false
}

// EntityType is the kind of business object a ledger event concerns.
type EntityType string

const (
	EntityApplication EntityType = "application"
	EntityProject     EntityType = "project"
	EntityTract       EntityType = "tract"
	EntityCDE         EntityType = "cde"
	EntityInvestor    EntityType = "investor"
	EntitySponsor     EntityType = "sponsor"
	EntityDocument    EntityType = "document"
	EntityClosing     EntityType = "closing"
	EntityQALICB      EntityType = "qalicb"
	EntityQLICI       EntityType = "qlici"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityApplication, EntityProject, EntityTract, EntityCDE,
		EntityInvestor, EntitySponsor, EntityDocument, EntityClosing,
		EntityQALICB, EntityQLICI:
		return true
	}
	return false
}

// Action is one value from the closed, versioned taxonomy of business actions
// the ledger accepts. Unrecognized actions are rejected at append time rather
// than silently recorded.
type Action string

const (
	// Application lifecycle
	ActionApplicationCreated       Action = "application_created"
	ActionApplicationUpdated       Action = "application_updated"
	ActionApplicationSubmitted     Action = "application_submitted"
	ActionApplicationStatusChanged Action = "application_status_changed"

	// AI scoring
	ActionDistressScoreCalculated Action = "distress_score_calculated"
	ActionImpactScoreCalculated   Action = "impact_score_calculated"
	ActionEligibilityDetermined   Action = "eligibility_determined"

	// CDE matching
	ActionCDEMatchSuggested Action = "cde_match_suggested"
	ActionCDEMatchAccepted  Action = "cde_match_accepted"
	ActionCDEMatchRejected  Action = "cde_match_rejected"
	ActionCDEMatchOverride  Action = "cde_match_override"

	// Documents
	ActionDocumentUploaded Action = "document_uploaded"
	ActionDocumentHashed   Action = "document_hashed"
	ActionDocumentSigned   Action = "document_signed"
	ActionDocumentExecuted Action = "document_executed"

	// Closing
	ActionClosingInitiated        Action = "closing_initiated"
	ActionClosingMilestoneReached Action = "closing_milestone_reached"
	ActionFundingApproved         Action = "funding_approved"
	ActionFundingDisbursed        Action = "funding_disbursed"
	ActionClosingCompleted        Action = "closing_completed"

	// Post-closing compliance
	ActionComplianceCheckPerformed Action = "compliance_check_performed"
	ActionAnnualReportSubmitted    Action = "annual_report_submitted"
	ActionAmendmentRecorded        Action = "amendment_recorded"
)

// actions is the authoritative membership set for the Action taxonomy.
var actions = map[Action]struct{}{
	ActionApplicationCreated:       {},
	ActionApplicationUpdated:       {},
	ActionApplicationSubmitted:     {},
	ActionApplicationStatusChanged: {},
	ActionDistressScoreCalculated:  {},
	ActionImpactScoreCalculated:    {},
	ActionEligibilityDetermined:    {},
	ActionCDEMatchSuggested:        {},
	ActionCDEMatchAccepted:         {},
	ActionCDEMatchRejected:         {},
	ActionCDEMatchOverride:         {},
	ActionDocumentUploaded:         {},
	ActionDocumentHashed:           {},
	ActionDocumentSigned:           {},
	ActionDocumentExecuted:         {},
	ActionClosingInitiated:         {},
	ActionClosingMilestoneReached:  {},
	ActionFundingApproved:          {},
	ActionFundingDisbursed:         {},
	ActionClosingCompleted:         {},
	ActionComplianceCheckPerformed: {},
	ActionAnnualReportSubmitted:    {},
	ActionAmendmentRecorded:        {},
}

// Valid reports whether a is part of the action taxonomy.
func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

// Actions returns every action in the taxonomy. The order is unspecified.
func Actions() []Action {
	out := make([]Action, 0, len(actions))
	for a := range actions {
		out = append(out, a)
	}
	return out
}
