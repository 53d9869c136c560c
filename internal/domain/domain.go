package domain

type WorkflowDefinition struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	IsActive    bool    `json:"is_active"`
	Stages      []Stage `json:"stages,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Stage struct {
	ID           string   `json:"id"`
	WorkflowID   string   `json:"workflow_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Order        int      `json:"node_order"`
	QuorumPolicy string   `json:"approval_type" enum:"ALL,ANY"`
	Reviewers    []string `json:"reviewers"`
}

type WorkflowInstance struct {
	ID              string  `json:"id"`
	WorkflowID      string  `json:"workflow_id"`
	TargetRequestID string  `json:"target_request_id"`
	CurrentStageID  *string `json:"current_stage_id,omitempty"`
	Status          string  `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

// StageSnapshot is a stage as captured at instance initialization. Instances
// resolve their current stage against snapshots, never the live definition,
// so reordering or reviewer edits cannot move an in-flight instance.
type StageSnapshot struct {
	InstanceID   string   `json:"instance_id"`
	StageID      string   `json:"stage_id"`
	Name         string   `json:"name"`
	Order        int      `json:"node_order"`
	QuorumPolicy string   `json:"approval_type" enum:"ALL,ANY"`
	Reviewers    []string `json:"reviewers"`
}

type Vote struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	StageID    string `json:"stage_id"`
	ReviewerID string `json:"reviewer_id"`
	Decision   string `json:"decision" enum:"APPROVE,REJECT"`
	Comments   string `json:"comments,omitempty"`
	CastAt     string `json:"cast_at" format:"date-time"`
}

type AuditEntry struct {
	ID         int64  `json:"id"`
	InstanceID string `json:"instance_id"`
	EntryType  string `json:"entry_type" enum:"INSTANCE_CREATED,VOTE_CAST,STAGE_ADVANCED,APPROVED,REJECTED"`
	StageID    string `json:"stage_id,omitempty"`
	VoteID     string `json:"vote_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
	TS         string `json:"ts" format:"date-time"`
}

// StageTally reports per-stage approval progress.
type StageTally struct {
	ApprovedCount int `json:"approved_count"`
	TotalRequired int `json:"total_required"`
}

// VoteResult is the outcome of evaluating one vote against the active stage.
type VoteResult struct {
	Status          string     `json:"ticket_status" enum:"PENDING,APPROVED,REJECTED"`
	EvaluatedStage  string     `json:"node"`
	MovedToNextNode bool       `json:"moved_to_next_node"`
	NextStage       *string    `json:"next_node,omitempty"`
	Tally           StageTally `json:"node_status"`
}

type ReprintRequest struct {
	ID          string `json:"id"`
	TicketNo    string `json:"ticket_no"`
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requested_by"`
	Status      string `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"

	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"

	QuorumAll = "ALL"
	QuorumAny = "ANY"
)

func ValidQuorumPolicy(p string) bool {
	return p == QuorumAll || p == QuorumAny
}

func ValidDecision(d string) bool {
	return d == DecisionApprove || d == DecisionReject
}
