package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

const requestColumns = `r.id, r.order_id, r.requester_role, r.requester_id, r.reason, r.resolution, r.resolution_reason, r.created_at, r.resolved_at, o.customer_id, o.restaurant_id, o.status, o.total`

// CancelRequestsRepo stores cancellation requests.
type CancelRequestsRepo struct {
	db *sql.DB
}

// NewCancelRequestsRepo constructs a CancelRequestsRepo.
func NewCancelRequestsRepo(db *sql.DB) *CancelRequestsRepo {
	return &CancelRequestsRepo{db: db}
}

// CreateRequest locks the order and stores the request built by fn. A pending
// request for the same order is returned instead of creating a duplicate.
func (r *CancelRequestsRepo) CreateRequest(ctx context.Context, orderID int64, fn RequestFunc) (model.CancellationRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.CancellationRequest{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var o model.Order
	if o, _, err = getOrder(ctx, tx, orderID, true); err != nil {
		return model.CancellationRequest{}, err
	}

	var req model.CancellationRequest
	if req, err = fn(o); err != nil {
		return model.CancellationRequest{}, err
	}

	existing, findErr := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM food_cancel_requests r JOIN food_orders o ON o.id = r.order_id WHERE r.order_id = ? AND r.resolution = ? LIMIT 1`, orderID, string(model.ResolutionPending)))
	switch {
	case findErr == nil:
		if err = tx.Commit(); err != nil {
			return model.CancellationRequest{}, err
		}
		return existing, nil
	case !errors.Is(findErr, sql.ErrNoRows):
		err = findErr
		return model.CancellationRequest{}, err
	}

	res, execErr := tx.ExecContext(ctx, `INSERT INTO food_cancel_requests (order_id, requester_role, requester_id, reason, resolution, created_at) VALUES (?,?,?,?,?,?)`,
		req.OrderID, string(req.RequesterRole), req.RequesterID, nullString(req.Reason), string(req.Resolution), req.CreatedAt)
	if execErr != nil {
		err = execErr
		return model.CancellationRequest{}, err
	}
	if req.ID, err = res.LastInsertId(); err != nil {
		return model.CancellationRequest{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.CancellationRequest{}, err
	}
	return req, nil
}

// GetRequest returns a request with its order context.
func (r *CancelRequestsRepo) GetRequest(ctx context.Context, id int64) (model.CancellationRequest, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM food_cancel_requests r JOIN food_orders o ON o.id = r.order_id WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CancellationRequest{}, ErrRequestNotFound
	}
	return req, err
}

// ListRequests returns requests matching f, oldest first so the admin queue is FIFO.
func (r *CancelRequestsRepo) ListRequests(ctx context.Context, f RequestFilter) ([]model.CancellationRequest, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.CustomerID != 0 {
		where = append(where, "o.customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.OrderID != 0 {
		where = append(where, "r.order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.Resolution != "" {
		where = append(where, "r.resolution = ?")
		args = append(args, string(f.Resolution))
	}
	query := `SELECT ` + requestColumns + ` FROM food_cancel_requests r JOIN food_orders o ON o.id = r.order_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.created_at, r.id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CancellationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveRequest locks the request and its order, applies fn and stores both.
func (r *CancelRequestsRepo) ResolveRequest(ctx context.Context, id, adminID int64, fn ResolveFunc) (model.CancellationRequest, model.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.CancellationRequest{}, model.Order{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var orderID int64
	if err = tx.QueryRowContext(ctx, `SELECT order_id FROM food_cancel_requests WHERE id = ? FOR UPDATE`, id).Scan(&orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrRequestNotFound
		}
		return model.CancellationRequest{}, model.Order{}, err
	}
	var (
		o   model.Order
		raw string
		req model.CancellationRequest
	)
	if o, raw, err = getOrder(ctx, tx, orderID, true); err != nil {
		return model.CancellationRequest{}, model.Order{}, err
	}
	if req, err = scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM food_cancel_requests r JOIN food_orders o ON o.id = r.order_id WHERE r.id = ?`, id)); err != nil {
		return model.CancellationRequest{}, model.Order{}, err
	}
	prevShipper := nullInt64(o.ShipperID)
	seen := len(o.History)

	var changed bool
	if changed, err = fn(&req, &o); err != nil {
		return model.CancellationRequest{}, model.Order{}, err
	}
	if changed {
		if err = updateOrderTx(ctx, tx, o, raw, prevShipper, seen); err != nil {
			return model.CancellationRequest{}, model.Order{}, err
		}
	}
	res, execErr := tx.ExecContext(ctx, `UPDATE food_cancel_requests SET resolution = ?, resolution_reason = ?, resolved_by = ?, resolved_at = ? WHERE id = ? AND resolution = ?`,
		string(req.Resolution), nullString(req.ResolutionReason), adminID, timeOrNil(req.ResolvedAt), id, string(model.ResolutionPending))
	if execErr != nil {
		err = execErr
		return model.CancellationRequest{}, model.Order{}, err
	}
	var n int64
	if n, err = res.RowsAffected(); err != nil {
		return model.CancellationRequest{}, model.Order{}, err
	}
	if n == 0 {
		err = ErrConflict
		return model.CancellationRequest{}, model.Order{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.CancellationRequest{}, model.Order{}, err
	}
	return req, o, nil
}

func scanRequest(row scanner) (model.CancellationRequest, error) {
	var (
		req        model.CancellationRequest
		role       string
		resolution string
		reason     sql.NullString
		resReason  sql.NullString
		resolvedAt sql.NullTime
		status     string
	)
	if err := row.Scan(&req.ID, &req.OrderID, &role, &req.RequesterID, &reason, &resolution, &resReason, &req.CreatedAt, &resolvedAt,
		&req.CustomerID, &req.RestaurantID, &status, &req.OrderTotal); err != nil {
		return model.CancellationRequest{}, err
	}
	req.RequesterRole = model.Role(role)
	req.Resolution = model.Resolution(strings.ToUpper(resolution))
	req.Reason = reason.String
	req.ResolutionReason = resReason.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	req.OrderStatus = lifecycle.Normalize(status)
	return req, nil
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
