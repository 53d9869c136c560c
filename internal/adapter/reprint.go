package adapter

import (
	"context"
	"errors"

	"approvalflow/internal/domain"
	"approvalflow/internal/repo"
)

// Reprint stamps workflow outcomes onto ticket-reprint requests.
type Reprint struct {
	Repo repo.Repo
}

func (a Reprint) OnFinalized(ctx context.Context, requestID, outcome string) error {
	if outcome != domain.StatusApproved && outcome != domain.StatusRejected {
		return Error{RequestID: requestID, Outcome: outcome, Err: errors.New("outcome must be terminal")}
	}
	req, err := a.Repo.GetReprintRequest(ctx, requestID)
	if err != nil {
		return Error{RequestID: requestID, Outcome: outcome, Err: err}
	}
	// Redundant calls with the same outcome are safe no-ops.
	if req.Status == outcome {
		return nil
	}
	if err := a.Repo.SetReprintStatus(ctx, requestID, outcome); err != nil {
		return Error{RequestID: requestID, Outcome: outcome, Err: err}
	}
	return nil
}
