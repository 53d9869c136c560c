package engine

// ErrorKind identifies a structured engine error. Kinds group into three
// classes: configuration (rejected at Initialize), authorization (rejected at
// CastVote) and state conflicts (idempotency enforced by rejection).
type ErrorKind string

const (
	KindDefinitionInactive      ErrorKind = "definition_inactive"
	KindEmptyWorkflow           ErrorKind = "empty_workflow"
	KindStageMisconfigured      ErrorKind = "stage_misconfigured"
	KindDuplicateActiveInstance ErrorKind = "duplicate_active_instance"
	KindInstanceNotPending      ErrorKind = "instance_not_pending"
	KindNotEligibleReviewer     ErrorKind = "not_eligible_reviewer"
	KindDuplicateVote           ErrorKind = "duplicate_vote"
	KindRejectRequiresComment   ErrorKind = "reject_requires_comment"
)

type Error struct {
	Kind    ErrorKind
	Message string
}

func (e Error) Error() string { return e.Message }

func errOf(kind ErrorKind, msg string) Error {
	return Error{Kind: kind, Message: msg}
}

// IsConfiguration reports whether the kind is a workflow-configuration error.
func (k ErrorKind) IsConfiguration() bool {
	switch k {
	case KindDefinitionInactive, KindEmptyWorkflow, KindStageMisconfigured, KindRejectRequiresComment:
		return true
	}
	return false
}

// IsAuthorization reports whether the kind is a reviewer-authorization error.
func (k ErrorKind) IsAuthorization() bool {
	return k == KindNotEligibleReviewer
}

// IsStateConflict reports whether the kind is a state conflict.
func (k ErrorKind) IsStateConflict() bool {
	switch k {
	case KindDuplicateActiveInstance, KindInstanceNotPending, KindDuplicateVote:
		return true
	}
	return false
}
