package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"approvalflow/internal/domain"
)

func (r Repo) CreateReprintRequest(ctx context.Context, ticketNo, reason, requestedBy string) (domain.ReprintRequest, error) {
	if strings.TrimSpace(ticketNo) == "" {
		return domain.ReprintRequest{}, errors.New("ticket_no is required")
	}
	if strings.TrimSpace(requestedBy) == "" {
		return domain.ReprintRequest{}, errors.New("requested_by is required")
	}
	req := domain.ReprintRequest{
		ID:          uuid.New().String(),
		TicketNo:    ticketNo,
		Reason:      reason,
		RequestedBy: requestedBy,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reprint_requests(id,ticket_no,reason,requested_by,status,created_at) VALUES (?,?,?,?,?,?)`,
		req.ID, req.TicketNo, nullable(req.Reason), req.RequestedBy, req.Status, req.CreatedAt)
	if err != nil {
		return domain.ReprintRequest{}, err
	}
	return req, nil
}

func (r Repo) GetReprintRequest(ctx context.Context, id string) (domain.ReprintRequest, error) {
	var req domain.ReprintRequest
	var reason sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,ticket_no,reason,requested_by,status,created_at FROM reprint_requests WHERE id=?`, id).
		Scan(&req.ID, &req.TicketNo, &reason, &req.RequestedBy, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	if reason.Valid {
		req.Reason = reason.String
	}
	return req, nil
}

func (r Repo) ListReprintRequests(ctx context.Context, status string) ([]domain.ReprintRequest, error) {
	query := `SELECT id,ticket_no,COALESCE(reason,''),requested_by,status,created_at FROM reprint_requests`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReprintRequest
	for rows.Next() {
		var req domain.ReprintRequest
		if err := rows.Scan(&req.ID, &req.TicketNo, &req.Reason, &req.RequestedBy, &req.Status, &req.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// SetReprintStatus stamps a terminal outcome onto the request row.
func (r Repo) SetReprintStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE reprint_requests SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
