package server

import (
	"approvalflow/internal/domain"
	"approvalflow/internal/engine"
)

// Request payloads

type CreateWorkflowRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpdateWorkflowRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type CreateNodeRequest struct {
	Name         string  `json:"name"`
	Description  *string `json:"description,omitempty"`
	ApprovalType string  `json:"approval_type" enum:"ALL,ANY"`
	Order        int     `json:"node_order" minimum:"1"`
}

type UpdateNodeRequest struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	ApprovalType *string `json:"approval_type,omitempty" enum:"ALL,ANY"`
	Order        *int    `json:"node_order,omitempty" minimum:"1"`
}

type SetNodeUsersRequest struct {
	UserIDs []string `json:"user_ids"`
}

type CreateReprintRequest struct {
	TicketNo    string  `json:"ticket_no"`
	Reason      *string `json:"reason,omitempty"`
	RequestedBy *string `json:"requested_by,omitempty"`
}

type InitWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
}

type VoteRequest struct {
	UserID   *string `json:"user_id,omitempty"`
	Action   string  `json:"action" enum:"APPROVE,REJECT"`
	Comments *string `json:"comments,omitempty"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Response payloads

type WorkflowResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	IsActive    bool           `json:"is_active"`
	Nodes       []NodeResponse `json:"nodes,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type NodeResponse struct {
	ID           string   `json:"id"`
	WorkflowID   string   `json:"workflow_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Order        int      `json:"node_order"`
	ApprovalType string   `json:"approval_type" enum:"ALL,ANY"`
	Users        []string `json:"users"`
}

type ReprintResponse struct {
	ID          string `json:"id"`
	TicketNo    string `json:"ticket_no"`
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requested_by"`
	Status      string `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type InstanceResponse struct {
	ID              string  `json:"id"`
	WorkflowID      string  `json:"workflow_id"`
	TargetRequestID string  `json:"target_request_id"`
	CurrentNodeID   *string `json:"current_node_id,omitempty"`
	Status          string  `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" enum:"ADMIN,REVIEWER,TRAINEE,USER"`
	Source string `json:"source,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func workflowResponse(d domain.WorkflowDefinition) WorkflowResponse {
	return WorkflowResponse{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		IsActive:    d.IsActive,
		Nodes:       mapNodes(d.Stages),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func mapWorkflows(items []domain.WorkflowDefinition) []WorkflowResponse {
	out := make([]WorkflowResponse, 0, len(items))
	for _, d := range items {
		out = append(out, workflowResponse(d))
	}
	return out
}

func nodeResponse(s domain.Stage) NodeResponse {
	users := s.Reviewers
	if users == nil {
		users = []string{}
	}
	return NodeResponse{
		ID:           s.ID,
		WorkflowID:   s.WorkflowID,
		Name:         s.Name,
		Description:  s.Description,
		Order:        s.Order,
		ApprovalType: s.QuorumPolicy,
		Users:        users,
	}
}

func mapNodes(items []domain.Stage) []NodeResponse {
	out := make([]NodeResponse, 0, len(items))
	for _, s := range items {
		out = append(out, nodeResponse(s))
	}
	return out
}

func reprintResponse(r domain.ReprintRequest) ReprintResponse {
	return ReprintResponse{
		ID:          r.ID,
		TicketNo:    r.TicketNo,
		Reason:      r.Reason,
		RequestedBy: r.RequestedBy,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
	}
}

func mapReprints(items []domain.ReprintRequest) []ReprintResponse {
	out := make([]ReprintResponse, 0, len(items))
	for _, r := range items {
		out = append(out, reprintResponse(r))
	}
	return out
}

func instanceResponse(in domain.WorkflowInstance) InstanceResponse {
	return InstanceResponse{
		ID:              in.ID,
		WorkflowID:      in.WorkflowID,
		TargetRequestID: in.TargetRequestID,
		CurrentNodeID:   in.CurrentStageID,
		Status:          in.Status,
		CreatedAt:       in.CreatedAt,
	}
}

func mapPending(items []engine.PendingApproval) []engine.PendingApproval {
	if items == nil {
		return []engine.PendingApproval{}
	}
	return items
}
