package approvalflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Approvalflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	UserID      string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Workflow represents the API workflow definition model.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
	Nodes       []Node `json:"nodes,omitempty"`
}

// Node represents one approval stage of a workflow.
type Node struct {
	ID           string   `json:"id"`
	WorkflowID   string   `json:"workflow_id"`
	Name         string   `json:"name"`
	Order        int      `json:"node_order"`
	ApprovalType string   `json:"approval_type"`
	Users        []string `json:"users"`
}

// Reprint represents a ticket-reprint request.
type Reprint struct {
	ID          string `json:"id"`
	TicketNo    string `json:"ticket_no"`
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requested_by"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// Instance represents one workflow run bound to a request.
type Instance struct {
	ID              string  `json:"id"`
	WorkflowID      string  `json:"workflow_id"`
	TargetRequestID string  `json:"target_request_id"`
	CurrentNodeID   *string `json:"current_node_id,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
}

// NodeStatus is the per-node approval tally.
type NodeStatus struct {
	ApprovedCount int `json:"approved_count"`
	TotalRequired int `json:"total_required"`
}

// VoteResult is the outcome of casting one vote.
type VoteResult struct {
	TicketStatus    string     `json:"ticket_status"`
	Node            string     `json:"node"`
	MovedToNextNode bool       `json:"moved_to_next_node"`
	NextNode        *string    `json:"next_node,omitempty"`
	NodeStatus      NodeStatus `json:"node_status"`
}

// AuditEntry is one row of an instance's append-only trail.
type AuditEntry struct {
	ID         int64  `json:"id"`
	InstanceID string `json:"instance_id"`
	EntryType  string `json:"entry_type"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
	TS         string `json:"ts"`
}

// History is the approval trail of one instance.
type History struct {
	InstanceID      string       `json:"instance_id"`
	TargetRequestID string       `json:"target_request_id"`
	Status          string       `json:"status"`
	Entries         []AuditEntry `json:"entries"`
}

// PendingApproval is one instance awaiting the reviewer's vote.
type PendingApproval struct {
	InstanceID      string `json:"instance_id"`
	WorkflowID      string `json:"workflow_id"`
	TargetRequestID string `json:"target_request_id"`
	Node            string `json:"node"`
	CreatedAt       string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateWorkflow creates a workflow definition.
func (c *Client) CreateWorkflow(ctx context.Context, name, description string) (Workflow, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "v0/workflows", body, &resp)
	return resp, err
}

// GetWorkflow fetches a workflow with its nodes.
func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, "v0/workflows/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AddNode appends an approval node to a workflow.
func (c *Client) AddNode(ctx context.Context, workflowID, name, approvalType string, order int) (Node, error) {
	body := map[string]any{
		"name":          name,
		"approval_type": approvalType,
		"node_order":    order,
	}
	var resp Node
	endpoint := fmt.Sprintf("v0/workflows/%s/nodes", url.PathEscape(workflowID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetNodeUsers replaces a node's reviewer set.
func (c *Client) SetNodeUsers(ctx context.Context, nodeID string, userIDs []string) (Node, error) {
	var resp Node
	endpoint := fmt.Sprintf("v0/nodes/%s/users", url.PathEscape(nodeID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"user_ids": userIDs}, &resp)
	return resp, err
}

// CreateReprint files a ticket-reprint request.
func (c *Client) CreateReprint(ctx context.Context, ticketNo, reason string) (Reprint, error) {
	body := map[string]any{"ticket_no": ticketNo}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Reprint
	err := c.do(ctx, http.MethodPost, "v0/reprints", body, &resp)
	return resp, err
}

// InitWorkflow attaches an approval workflow to a reprint request.
func (c *Client) InitWorkflow(ctx context.Context, reprintID, workflowID string) (Instance, error) {
	var resp Instance
	endpoint := fmt.Sprintf("v0/reprints/%s/workflow", url.PathEscape(reprintID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"workflow_id": workflowID}, &resp)
	return resp, err
}

// Approve casts a vote on the reprint's pending instance.
func (c *Client) Approve(ctx context.Context, reprintID, action, comments string) (VoteResult, error) {
	body := map[string]any{"action": action}
	if comments != "" {
		body["comments"] = comments
	}
	var resp VoteResult
	endpoint := fmt.Sprintf("v0/reprints/%s/approve", url.PathEscape(reprintID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Approvals returns the approval history of a reprint request.
func (c *Client) Approvals(ctx context.Context, reprintID string) (History, error) {
	var resp History
	endpoint := fmt.Sprintf("v0/reprints/%s/approvals", url.PathEscape(reprintID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Pending lists instances awaiting the given reviewer.
func (c *Client) Pending(ctx context.Context, userID string) ([]PendingApproval, error) {
	var resp []PendingApproval
	endpoint := "v0/approvals/pending"
	if userID != "" {
		endpoint += "?user_id=" + url.QueryEscape(userID)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
